package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/permadata-network/argateway"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name: "argateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db_dir", Value: "./data/bolt", Usage: "bolt db dir path", EnvVars: []string{"DB_DIR"}},
			&cli.StringFlag{Name: "mysql", Value: "root@tcp(127.0.0.1:3306)/argateway?charset=utf8mb4&parseTime=True&loc=Local", Usage: "mysql dsn", EnvVars: []string{"MYSQL"}},
			&cli.BoolFlag{Name: "sqlite_flag", Value: false, Usage: "run with sqlite instead of mysql", EnvVars: []string{"SQLITE_FLAG"}},
			&cli.StringFlag{Name: "sqlite_dir", Value: "./data/sqlite", Usage: "sqlite dir path", EnvVars: []string{"SQLITE_DIR"}},
			&cli.StringFlag{Name: "ar_node", Value: "https://arweave.net", EnvVars: []string{"AR_NODE"}},

			&cli.BoolFlag{Name: "s3_flag", Value: false, Usage: "run with s3 store", EnvVars: []string{"S3_FLAG"}},
			&cli.StringFlag{Name: "s3_acc_key", Value: "", Usage: "s3 access key", EnvVars: []string{"S3_ACC_KEY"}},
			&cli.StringFlag{Name: "s3_secret_key", Value: "", Usage: "s3 secret key", EnvVars: []string{"S3_SECRET_KEY"}},
			&cli.StringFlag{Name: "s3_prefix", Value: "argateway", Usage: "s3 bucket name prefix", EnvVars: []string{"S3_PREFIX"}},
			&cli.StringFlag{Name: "s3_region", Value: "ap-northeast-1", Usage: "s3 bucket region", EnvVars: []string{"S3_REGION"}},
			&cli.StringFlag{Name: "s3_endpoint", Value: "", Usage: "custom s3 endpoint", EnvVars: []string{"S3_ENDPOINT"}},

			&cli.BoolFlag{Name: "sqs_flag", Value: false, Usage: "run with sqs queues", EnvVars: []string{"SQS_FLAG"}},
			&cli.StringFlag{Name: "sqs_acc_key", Value: "", Usage: "sqs access key", EnvVars: []string{"SQS_ACC_KEY"}},
			&cli.StringFlag{Name: "sqs_secret_key", Value: "", Usage: "sqs secret key", EnvVars: []string{"SQS_SECRET_KEY"}},
			&cli.StringFlag{Name: "sqs_region", Value: "ap-northeast-1", Usage: "sqs region", EnvVars: []string{"SQS_REGION"}},
			&cli.StringFlag{Name: "sqs_import_txs_url", Value: "", Usage: "import-txs queue url", EnvVars: []string{"SQS_IMPORT_TXS_URL"}},
			&cli.StringFlag{Name: "sqs_import_bundles_url", Value: "", Usage: "import-bundles queue url", EnvVars: []string{"SQS_IMPORT_BUNDLES_URL"}},

			&cli.StringFlag{Name: "kafka_uri", Value: "", Usage: "kafka broker uri, events disabled when empty", EnvVars: []string{"KAFKA_URI"}},
			&cli.IntFlag{Name: "max_fork_depth", Value: 100, Usage: "deepest fork the resolver chases", EnvVars: []string{"MAX_FORK_DEPTH"}},
			&cli.StringFlag{Name: "metrics_port", Value: ":9000", EnvVars: []string{"METRICS_PORT"}},
		},
		Action: run,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	s := argateway.New(
		c.String("db_dir"), c.String("mysql"), c.String("sqlite_dir"), c.Bool("sqlite_flag"),
		c.String("ar_node"),
		c.Bool("s3_flag"), c.String("s3_acc_key"), c.String("s3_secret_key"), c.String("s3_prefix"), c.String("s3_region"), c.String("s3_endpoint"),
		c.Bool("sqs_flag"), c.String("sqs_acc_key"), c.String("sqs_secret_key"), c.String("sqs_region"), c.String("sqs_import_txs_url"), c.String("sqs_import_bundles_url"),
		c.String("kafka_uri"),
		c.Int("max_fork_depth"),
	)
	s.Run()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(c.String("metrics_port"), nil); err != nil {
			log.Println("metrics server stopped:", err)
		}
	}()

	<-signals
	s.Close()

	return nil
}
