package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diegose/limitd-go/client"
	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport"
	"github.com/diegose/limitd-go/transport/tcp"
	"github.com/diegose/limitd-go/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the common client connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoints"
	cmd.PersistentFlags().String(key, "limitd://localhost:9231", WrapString("Server endpoints as a comma-separated list. Additional endpoints are used as reconnect fallbacks"))

	key = "shard-endpoints"
	cmd.PersistentFlags().String(key, "", WrapString("Shard endpoints as a comma-separated list. When set, requests are routed to shards by bucket key"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultTimeout, WrapString("Per-request timeout"))

	key = "no-retry"
	cmd.PersistentFlags().Bool(key, false, WrapString("Disable reconnection. A single failed connection attempt is terminal"))

	key = "retry-min"
	cmd.PersistentFlags().Duration(key, common.DefaultRetryMinTimeout, WrapString("Initial reconnect backoff delay"))

	key = "retry-max"
	cmd.PersistentFlags().Duration(key, common.DefaultRetryMaxTimeout, WrapString("Maximum reconnect backoff delay"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on the connection"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("TCP keepalive interval in seconds, 0 to disable"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Socket write buffer size in KB, 0 for the OS default"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Socket read buffer size in KB, 0 for the OS default"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("limitd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		Endpoints: splitList(viper.GetString("endpoints")),
		Timeout:   viper.GetDuration("timeout"),
		Retry: common.RetryConfig{
			Disabled:   viper.GetBool("no-retry"),
			MinTimeout: viper.GetDuration("retry-min"),
			MaxTimeout: viper.GetDuration("retry-max"),
		},
		Socket: common.SocketConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
	}

	if shards := splitList(viper.GetString("shard-endpoints")); len(shards) > 0 {
		conf.Shard = &common.ShardConfig{Endpoints: shards}
	}

	return conf
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.ISerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetConnector creates a transport connector based on configuration
func GetConnector() (transport.IConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewConnector(), nil
	case "unix":
		return unix.NewConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// NewLimiter builds a client from the resolved configuration
func NewLimiter() (client.ILimiter, error) {
	common.InitLoggers(viper.GetString("log-level"))

	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}

	connector, err := GetConnector()
	if err != nil {
		return nil, err
	}

	return client.New(*GetClientConfig(), connector, s)
}

// RequestContext returns a context bounded a little beyond the request
// timeout, so the client-side deadline fires first and its error is the one
// reported.
func RequestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout")+time.Second)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// splitList splits a comma-separated flag value, dropping empty entries
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
