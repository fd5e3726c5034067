package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Tsinling0525/weir/engine"
	"github.com/Tsinling0525/weir/expr"
	"github.com/Tsinling0525/weir/format/definition"
	"github.com/Tsinling0525/weir/infra"
	"github.com/Tsinling0525/weir/logging"
	"github.com/Tsinling0525/weir/model"
	"github.com/Tsinling0525/weir/plugin"
)

// localEngine is an in-process engine over memory stores.
func localEngine() (*engine.Engine, error) {
	level := os.Getenv("WEIR_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := logging.New(level)
	return engine.New(plugin.Default(), infra.NewMemStore(), infra.NewDefinitionStore(),
		engine.WithLogger(logger),
		engine.WithBus(infra.LogBus{Logger: logger}),
		engine.WithExpressions(expr.New(expr.WithLogger(logger))),
	)
}

func readDataFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return definition.ReadData(f)
}

func printIssues(w io.Writer, res model.DeploymentResult) {
	fmt.Fprintf(w, "workflow %s has %d issue(s):\n", res.WorkflowID, len(res.Issues))
	for _, is := range res.Issues {
		fmt.Fprintf(w, "  - %s\n", is)
	}
}

// validateFile deploys the definition at path into a throwaway engine and
// reports whether it is valid.
func validateFile(w io.Writer, path string) (bool, error) {
	def, err := definition.Load(path)
	if err != nil {
		return false, err
	}
	eng, err := localEngine()
	if err != nil {
		return false, err
	}
	defer eng.Close(context.Background())
	res, err := eng.Deploy(context.Background(), def)
	if err != nil {
		return false, err
	}
	if !res.OK() {
		printIssues(w, res)
		return false, nil
	}
	fmt.Fprintf(w, "workflow %s is valid (%d activities, %d transitions)\n", res.WorkflowID, len(def.Activities), len(def.Transitions))
	return true, nil
}

// runFile runs the definition at path once and prints the final instance.
// Activities left waiting are reported, not awaited.
func runFile(ctx context.Context, w io.Writer, path, dataPath string) error {
	def, err := definition.Load(path)
	if err != nil {
		return err
	}
	data, err := readDataFile(dataPath)
	if err != nil {
		return err
	}
	eng, err := localEngine()
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	res, err := eng.Deploy(ctx, def)
	if err != nil {
		return err
	}
	if !res.OK() {
		printIssues(w, res)
		return fmt.Errorf("workflow %s is invalid", res.WorkflowID)
	}
	inst, err := eng.Start(ctx, model.TriggerInstance{WorkflowID: res.WorkflowID, Data: data})
	if err != nil {
		return err
	}
	eng.Wait()
	if inst, err = eng.Instance(ctx, inst.ID); err != nil {
		return err
	}

	out, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	for _, ai := range inst.ActivityInstances {
		switch ai.WorkState {
		case model.WorkErrored:
			return fmt.Errorf("activity %s failed: %s", ai.ActivityID, ai.Exception)
		case model.WorkWaiting:
			fmt.Fprintf(w, "activity %s (%s) is waiting for a message\n", ai.ActivityID, ai.ID)
		}
	}
	return nil
}
