package ping

import (
	"fmt"
	"time"

	"github.com/diegose/limitd-go/cmd/util"
	"github.com/spf13/cobra"
)

// PingCmd represents the ping command
var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity and round-trip time to a server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Bind command flags to viper
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}

		limiter, err := util.NewLimiter()
		if err != nil {
			return err
		}
		defer limiter.Close()

		ctx, cancel := util.RequestContext()
		defer cancel()

		start := time.Now()
		if err := limiter.PingCtx(ctx); err != nil {
			return err
		}
		fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
		return nil
	},
}

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags to the ping command
	util.SetupClientFlags(PingCmd)
}
