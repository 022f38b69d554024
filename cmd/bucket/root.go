package bucket

import (
	"github.com/diegose/limitd-go/client"
	"github.com/diegose/limitd-go/cmd/util"
	"github.com/spf13/cobra"
)

var (
	limiter client.ILimiter

	// BucketCommands represents the bucket command group
	BucketCommands = &cobra.Command{
		Use:               "bucket",
		Short:             "Perform bucket operations against a server",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags to the bucket command
	util.SetupClientFlags(BucketCommands)

	// Add subcommands
	BucketCommands.AddCommand(reserveCmd)
	BucketCommands.AddCommand(waitCmd)
	BucketCommands.AddCommand(inspectCmd)
	BucketCommands.AddCommand(replenishCmd)
	BucketCommands.AddCommand(statusCmd)
}

// setupClient initializes the limiter client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	limiter, err = util.NewLimiter()
	return err
}
