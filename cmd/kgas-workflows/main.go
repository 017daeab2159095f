// Command kgas-workflows inspects and resumes checkpointed workflows.
//
// Usage:
//
//	kgas-workflows list                  List workflows with checkpoints
//	kgas-workflows status <workflow-id>  Show workflow status and progress
//	kgas-workflows resume <workflow-id>  Resume from the latest checkpoint
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/BrianMills2718/kgas/internal/config"
	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/internal/storage/blobfs"
	"github.com/BrianMills2718/kgas/internal/storage/postgres"
	"github.com/BrianMills2718/kgas/internal/storage/sqlite"
	"github.com/BrianMills2718/kgas/internal/workflow"
)

var (
	configPath   = flag.String("config", "", "Path to config file (optional, uses env vars by default)")
	dataPath     = flag.String("data", "", "Data directory path (overrides config)")
	checkpointID = flag.String("checkpoint", "", "Checkpoint to resume from (default: latest)")
	jsonOut      = flag.Bool("json", false, "Emit JSON instead of text")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataPath != "" {
		cfg.Storage.DataPath = *dataPath
	}

	checkpoints, err := openCheckpointStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}
	defer checkpoints.Close()

	blobs, err := blobfs.NewBlobStore(cfg.Storage.DataPath)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	tracker := workflow.NewTracker(checkpoints, blobs, workflow.Options{})
	ctx := context.Background()

	switch flag.Arg(0) {
	case "list":
		handleList(ctx, checkpoints)
	case "status":
		requireArg(1, "workflow-id")
		handleStatus(ctx, tracker, flag.Arg(1))
	case "resume":
		requireArg(1, "workflow-id")
		handleResume(ctx, tracker, flag.Arg(1))
	default:
		log.Fatalf("Unknown command: %s", flag.Arg(0))
	}
}

func requireArg(n int, name string) {
	if flag.NArg() <= n {
		log.Fatalf("Missing required argument: %s", name)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadConfigFile(*configPath)
	}
	return config.LoadConfig()
}

func openCheckpointStore(cfg *config.Config) (storage.CheckpointStore, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	}
	return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "kgas.db"))
}

func handleList(ctx context.Context, checkpoints storage.CheckpointStore) {
	workflowIDs, err := checkpoints.ListWorkflowIDs(ctx)
	if err != nil {
		log.Fatalf("Failed to list workflows: %v", err)
	}

	if *jsonOut {
		printJSON(workflowIDs)
		return
	}

	if len(workflowIDs) == 0 {
		fmt.Println("No workflows found")
		return
	}

	fmt.Printf("Found %d workflow(s):\n\n", len(workflowIDs))
	for _, workflowID := range workflowIDs {
		latest, err := checkpoints.GetLatestCheckpoint(ctx, workflowID)
		if err != nil {
			fmt.Printf("  %s (no readable checkpoint: %v)\n", workflowID, err)
			continue
		}
		fmt.Printf("  %s\n", workflowID)
		fmt.Printf("    Type: %s\n", latest.WorkflowType)
		fmt.Printf("    Step: %d/%d (%.0f%%)\n",
			latest.StepNumber, latest.TotalSteps, latest.Progress()*100)
		fmt.Printf("    Last checkpoint: %s (%s ago)\n",
			latest.CreatedAt.Format(time.RFC3339),
			time.Since(latest.CreatedAt).Round(time.Second))
		fmt.Println()
	}
}

func handleStatus(ctx context.Context, tracker *workflow.Tracker, workflowID string) {
	status, err := tracker.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		log.Fatalf("Failed to get status: %v", err)
	}

	if *jsonOut {
		printJSON(status)
		return
	}

	fmt.Printf("Workflow: %s\n", status.WorkflowID)
	fmt.Printf("Status: %s\n", status.Status)
	if status.WorkflowType != "" {
		fmt.Printf("Type: %s\n", status.WorkflowType)
	}
	fmt.Printf("Progress: %d/%d (%.0f%%)\n",
		status.CurrentStep, status.TotalSteps, status.Progress*100)
	if len(status.FailedOperations) > 0 {
		fmt.Printf("Failed operations: %d\n", len(status.FailedOperations))
		for _, op := range status.FailedOperations {
			fmt.Printf("  - %s\n", op)
		}
	}
	if status.LastCheckpointID != "" {
		fmt.Printf("Last checkpoint: %s at %s\n",
			status.LastCheckpointID, status.LastCheckpointAt.Format(time.RFC3339))
	}
}

func handleResume(ctx context.Context, tracker *workflow.Tracker, workflowID string) {
	result, err := tracker.ResumeWorkflow(ctx, workflowID, *checkpointID)
	if err != nil {
		log.Fatalf("Resume failed: %v", err)
	}

	if *jsonOut {
		printJSON(result)
		return
	}

	fmt.Printf("Resumed workflow %s from checkpoint %s\n", result.WorkflowID, result.CheckpointID)
	fmt.Printf("  Step: %d/%d\n", result.CurrentStep, result.TotalSteps)
	fmt.Printf("  Completed operations: %d\n", len(result.CompletedOperations))
	fmt.Printf("  Failed operations: %d\n", len(result.FailedOperations))
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
