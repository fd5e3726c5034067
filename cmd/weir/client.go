package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Tsinling0525/weir/model"
)

// --- Instance CLI helpers (call local API) ---

var apiClient = &http.Client{Timeout: 30 * time.Second}

func apiBase() string {
	port := os.Getenv("WEIR_API_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://127.0.0.1:" + port
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// call sends body to the local API and decodes the envelope's data into out.
func call(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, apiBase()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := apiClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: %s: %w", method, path, resp.Status, err)
	}
	if !env.Success {
		if env.Error != "" {
			return errors.New(env.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func httpJSON(method, path string, payload, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return call(method, path, body, out)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func instDeploy(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var res model.DeploymentResult
	if err := call(http.MethodPost, "/workflows", bytes.NewReader(b), &res); err != nil {
		return err
	}
	fmt.Printf("deployed %s (version %d)\n", res.WorkflowID, res.Version)
	return nil
}

func instStart(workflow, id, dataPath string) error {
	data, err := readDataFile(dataPath)
	if err != nil {
		return err
	}
	var inst model.WorkflowInstance
	payload := map[string]any{"workflowInstanceId": id, "data": data}
	if err := httpJSON(http.MethodPost, "/workflows/"+workflow+"/start", payload, &inst); err != nil {
		return err
	}
	fmt.Printf("started instance: %s (workflow=%s status=%s)\n", inst.ID, inst.WorkflowID, inst.Status)
	return nil
}

func instPS(status string) error {
	path := "/instances"
	if status != "" {
		path += "?status=" + status
	}
	var insts []model.WorkflowInstance
	if err := httpJSON(http.MethodGet, path, nil, &insts); err != nil {
		return err
	}
	for _, inst := range insts {
		fmt.Printf("%s\t%s\t%s\t%s\n", inst.ID, inst.Status, inst.WorkflowID, inst.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func instGet(id string) error {
	var inst model.WorkflowInstance
	if err := httpJSON(http.MethodGet, "/instances/"+id, nil, &inst); err != nil {
		return err
	}
	return printJSON(inst)
}

func instLogs(id string) error {
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := httpJSON(http.MethodGet, "/instances/"+id+"/logs", nil, &out); err != nil {
		return err
	}
	for _, l := range out.Lines {
		fmt.Println(l)
	}
	return nil
}

func instSend(id, activity, dataPath string) error {
	data, err := readDataFile(dataPath)
	if err != nil {
		return err
	}
	var inst model.WorkflowInstance
	msg := model.Message{WorkflowInstanceID: id, ActivityInstanceID: activity, Data: data}
	if err := httpJSON(http.MethodPost, "/messages", msg, &inst); err != nil {
		return err
	}
	fmt.Printf("instance %s is %s\n", inst.ID, inst.Status)
	return nil
}

func instCancel(id string) error {
	var inst model.WorkflowInstance
	if err := httpJSON(http.MethodPost, "/instances/"+id+"/cancel", nil, &inst); err != nil {
		return err
	}
	fmt.Printf("instance %s is %s\n", inst.ID, inst.Status)
	return nil
}
