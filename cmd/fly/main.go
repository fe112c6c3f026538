package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// fly launches one mission against a running AeroSight server and follows
// its transcript until termination.
func main() {
	server := flag.String("server", "http://localhost:8080", "AeroSight server URL")
	scene := flag.String("scene", "default", "Scene namespace for the search map")
	goal := flag.String("goal", "", "Natural-language mission goal (required)")
	steps := flag.Int("steps", 25, "Planning step ceiling")
	priors := flag.String("priors", "", "Optional prior-knowledge JSONL path on the server")
	flag.Parse()

	if *goal == "" {
		fmt.Fprintln(os.Stderr, "a mission goal is required (-goal)")
		os.Exit(1)
	}

	id, err := launch(*server, *scene, *goal, *steps, *priors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "launch failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mission %s launched (scene %s)\n---\n", id, *scene)

	if err := follow(*server, id); err != nil {
		fmt.Fprintf(os.Stderr, "follow failed: %v\n", err)
		os.Exit(1)
	}
}

func launch(server, scene, goal string, steps int, priors string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"scene":                scene,
		"goal":                 goal,
		"step_limit":           steps,
		"prior_knowledge_path": priors,
	})
	resp, err := http.Post(server+"/api/missions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

type entry struct {
	Kind    string `json:"kind"`
	Step    int    `json:"step"`
	Thought string `json:"thought,omitempty"`
	Call    *struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"call,omitempty"`
	Obs *struct {
		Status  string `json:"status"`
		Summary string `json:"summary"`
	} `json:"observation,omitempty"`
}

func follow(server, id string) error {
	printed := 0
	for {
		entries, err := fetchTranscript(server, id)
		if err != nil {
			return err
		}
		for ; printed < len(entries); printed++ {
			printEntry(entries[printed])
		}

		phase, result, err := fetchStatus(server, id)
		if err != nil {
			return err
		}
		if phase == "terminated" {
			fmt.Printf("---\nmission ended: %s\n", result)
			return nil
		}
		time.Sleep(time.Second)
	}
}

func printEntry(e entry) {
	switch e.Kind {
	case "thought":
		fmt.Printf("[%02d] 🧠 %s\n", e.Step, e.Thought)
	case "observation":
		icon := "✓"
		if e.Obs != nil && e.Obs.Status != "success" {
			icon = "✗"
		}
		name := ""
		if e.Call != nil {
			name = e.Call.Function.Name
		}
		summary := ""
		if e.Obs != nil {
			summary = e.Obs.Summary
		}
		fmt.Printf("[%02d]  %s %s: %s\n", e.Step, icon, name, summary)
	}
}

func fetchTranscript(server, id string) ([]entry, error) {
	resp, err := http.Get(server + "/api/missions/" + id + "/transcript")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcript fetch returned %d", resp.StatusCode)
	}
	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func fetchStatus(server, id string) (string, string, error) {
	resp, err := http.Get(server + "/api/missions/" + id)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status fetch returned %d", resp.StatusCode)
	}
	var view struct {
		Phase  string `json:"phase"`
		Result *struct {
			Outcome string `json:"outcome"`
			Finding string `json:"finding"`
			Error   string `json:"error"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return "", "", err
	}

	summary := view.Phase
	if view.Result != nil {
		summary = view.Result.Outcome
		if view.Result.Finding != "" {
			summary += ": " + view.Result.Finding
		}
		if view.Result.Error != "" {
			summary += " (" + view.Result.Error + ")"
		}
	}
	return view.Phase, summary, nil
}
