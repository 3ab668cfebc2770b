package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type ciResult struct {
	Check     string    `json:"check"`
	Passed    bool      `json:"passed"`
	Details   []string  `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PrintCIResult writes a single machine readable JSON line for CI logs.
func PrintCIResult(passed bool, check string, details []string, err error) {
	res := ciResult{
		Check:     check,
		Passed:    passed,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	out, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "ci result marshal failed: %v\n", marshalErr)
		return
	}
	fmt.Println(string(out))
}
