// Command upsertcoordinatord is the entrypoint for the key coordinator.
// Its run command loads the configuration and opens the durable
// key→context store, then returns an error: no input/output log client
// is wired here, so no Coordinator is constructed or started.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli"

	"github.com/segmentstream/upsertengine/coordinator"
	"github.com/segmentstream/upsertengine/kvstore"
)

func main() {
	app := cli.NewApp()
	app.Name = "upsertcoordinatord"
	app.Usage = "run the upsert key coordinator"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "upsertcoordinatord.yaml", Usage: "path to config file"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "load config and open the kv store; fails because no log client is wired",
			Action: runAction,
		},
		{
			Name:  "version",
			Usage: "print the version and exit",
			Action: func(c *cli.Context) error {
				fmt.Println("upsertcoordinatord (development build)")
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("upsertcoordinatord exited with error")
	}
}

func loadConfig(path string) (coordinator.Config, string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("fetchMsgDelayMs", 10)
	v.SetDefault("fetchMsgMaxDelayMs", 250)
	v.SetDefault("fetchMsgMaxBatchSize", 1000)
	v.SetDefault("consumerBlockingQueueSize", 10000)
	v.SetDefault("outputAckTimeout", 5000)
	v.SetDefault("kvStore.path", "upsertcoordinator.db")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return coordinator.Config{}, "", err
		}
		logrus.WithField("path", path).Warn("no config file found, using defaults")
	}

	cfg := coordinator.Config{
		FetchMsgDelayMs:           v.GetInt("fetchMsgDelayMs"),
		FetchMsgMaxDelayMs:        v.GetInt("fetchMsgMaxDelayMs"),
		FetchMsgMaxBatchSize:      v.GetInt("fetchMsgMaxBatchSize"),
		ConsumerBlockingQueueSize: v.GetInt("consumerBlockingQueueSize"),
		OutputAckTimeoutMs:        v.GetInt("outputAckTimeout"),
	}
	return cfg, v.GetString("kvStore.path"), nil
}

func runAction(c *cli.Context) error {
	cfg, kvPath, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	logger := logrus.StandardLogger()

	kv, err := kvstore.Open(kvstore.Options{Path: kvPath, Logger: logger})
	if err != nil {
		return errors.Wrap(err, "open kv store")
	}
	defer kv.Close()
	_ = cfg

	// A concrete log broker client is deployment-specific; this command
	// wires config and the KV store only. Embed this package's New in a
	// deployment main that supplies InputLog/OutputLog implementations.
	return errors.New("no InputLog/OutputLog client wired: supply one via a deployment-specific main")
}

func init() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		logrus.Info("signal received, shutting down")
		os.Exit(0)
	}()
}
