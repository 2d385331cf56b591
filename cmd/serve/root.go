package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dht/cmd/util"
	"github.com/ValentinKolb/dht/lib/cluster"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/ValentinKolb/dht/rpc/server"
	"github.com/ValentinKolb/dht/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dht node",
		Long:    `Start a dht node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DHT_<flag> (e.g. DHT_QUEUE_CAPACITY=512)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "self-url"
	ServeCmd.PersistentFlags().String(key, "http://localhost:8080", cmdUtil.WrapString("The url under which the other cluster members reach this node. Must be one of the urls in cluster-members"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of all cluster members, identical on every node. A member is either a url or 'id=url1|url2' for a node with several urls (e.g. 'node-1=http://10.0.0.1:8080,node-2=http://10.0.0.2:8080'). Defaults to the self url (single node)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory of the storage engine, it is created if absent"))

	key = "flush-threshold"
	ServeCmd.PersistentFlags().String(key, common.DefaultFlushThreshold, cmdUtil.WrapString("Size of the in-memory buffer before it is written to disk (e.g. 512KiB, 4MiB)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, server.DefaultWorkers(), cmdUtil.WrapString("Number of workers handling requests (default: number of cpus)"))

	key = "queue-capacity"
	ServeCmd.PersistentFlags().Int(key, common.DefaultQueueCapacity, cmdUtil.WrapString("Maximum number of queued requests, further requests are answered with 503"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, common.DefaultTimeoutSecond, cmdUtil.WrapString("Timeout in seconds for forwarding a request to another member"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address for the metrics server (/metrics, /info), e.g. localhost:9090. Empty disables it"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.SelfURL = strings.TrimSpace(viper.GetString("self-url"))
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.QueueCapacity = viper.GetInt("queue-capacity")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	threshold, err := common.ParseFlushThreshold(viper.GetString("flush-threshold"))
	if err != nil {
		return err
	}
	serveCmdConfig.FlushThresholdBytes = threshold

	// parse cluster members, a single node cluster if none are given
	members := viper.GetString("cluster-members")
	if strings.TrimSpace(members) == "" {
		members = serveCmdConfig.SelfURL
	}
	serveCmdConfig.ClusterMembers, err = cluster.ParseMembers(members)
	if err != nil {
		return fmt.Errorf("invalid cluster members: %w", err)
	}

	return serveCmdConfig.Validate()
}

// run starts the node and blocks until it is stopped
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	serv, err := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		http.NewHttpClientTransport(),
	)
	if err != nil {
		return err
	}

	return serv.Serve()
}
