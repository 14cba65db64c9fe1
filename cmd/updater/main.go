// Command updater runs one full collection pass: it discovers accounts in
// the inventory, enumerates their IAM entities, enriches each ARN through
// the configured step chain, and persists the results to the selected sink.
//
// Seeding can be narrowed with the ACCOUNTS env var (comma-separated account
// ids, names, or aliases) or bypassed entirely with ARNS (comma-separated
// ARNs, which skips enumeration).
package main

import (
	"context"
	"log"
	"strings"
	"time"

	"arnscan/internal/enrich"
	"arnscan/internal/enumerate"
	"arnscan/internal/env"
	"arnscan/internal/inventory"
	"arnscan/internal/pipeline"
	"arnscan/internal/sink"
	"arnscan/pkg/graceful"
)

func main() {
	env.LoadEnv()
	ctx, cancel := graceful.Context(context.Background())
	defer cancel()

	directory, err := inventory.NewS3Directory(inventory.S3Config{
		Endpoint:  env.MustGetEnv("INVENTORY_MINIO_ENDPOINT"),
		AccessKey: env.MustGetEnv("INVENTORY_MINIO_ACCESS_KEY"),
		SecretKey: env.MustGetEnv("INVENTORY_MINIO_SECRET_KEY"),
		UseSSL:    env.GetEnvBool("INVENTORY_MINIO_USE_SSL"),
		Bucket:    env.MustGetEnv("INVENTORY_BUCKET"),
		Object:    env.GetEnv("INVENTORY_OBJECT", "accounts.json"),
	})
	if err != nil {
		log.Fatal(err)
	}

	enumerator, err := enumerate.NewIAM(ctx, enumerate.IAMConfig{
		RoleName:  env.MustGetEnv("AWS_ROLENAME"),
		Region:    env.GetEnv("AWS_REGION", "us-east-1"),
		Partition: env.GetEnv("AWS_ARN_PARTITION", "aws"),
	})
	if err != nil {
		log.Fatal(err)
	}

	chain := enrich.NewChain(
		enrich.NewAccessAdvisor(func(ctx context.Context, accountID string) (enrich.AdvisorAPI, error) {
			return enumerator.Client(ctx, accountID)
		}),
		enrich.Fields("run-metadata", map[string]any{
			"collected_at": time.Now().UTC().Format(time.RFC3339),
		}),
	)

	store, closeStore, err := buildSink(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	cfg := pipeline.Config{
		NumWorkers:         env.GetEnvInt("UPDATER_NUM_WORKERS", 10),
		InventoryFilter:    env.GetEnv("INVENTORY_FILTER", ""),
		ServiceRequirement: env.GetEnv("INVENTORY_SERVICE_REQUIREMENT", ""),
	}
	runner := pipeline.NewRunner(cfg, directory, enumerator, chain, store)

	start := time.Now()
	accounts := splitList(env.GetEnv("ACCOUNTS", ""))
	arns := splitList(env.GetEnv("ARNS", ""))
	if err := runner.Run(ctx, accounts, arns); err != nil {
		log.Fatalf("run aborted: %v", err)
	}
	log.Printf("run finished in %s with %d failures", time.Since(start), len(runner.Failures()))
}

// buildSink selects the persistence backend from the SINK env var.
func buildSink(ctx context.Context) (sink.Sink, func(), error) {
	switch backend := env.GetEnv("SINK", "postgres"); backend {
	case "postgres":
		pg, err := sink.NewPostgres(ctx, env.MustGetEnv("POSTGRES_DSN"))
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "kafka":
		k := sink.NewKafka(env.MustGetEnv("KAFKA_BROKER"), env.MustGetEnv("KAFKA_TOPIC"))
		return k, func() {
			if err := k.Close(); err != nil {
				log.Printf("Failed to close Kafka writer: %v", err)
			}
		}, nil
	default:
		log.Fatalf("Unknown SINK %q, expected postgres or kafka", backend)
		return nil, nil, nil
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
