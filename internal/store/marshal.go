package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/roach88/checkonaut/internal/ir"
)

// marshalArgs converts the run's input paths to canonical JSON TEXT.
func marshalArgs(args []string) (string, error) {
	arr := make(ir.IRArray, len(args))
	for i, a := range args {
		arr[i] = ir.IRString(a)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses the JSON TEXT written by marshalArgs.
func unmarshalArgs(data string) ([]string, error) {
	args := []string{}
	if data == "" || data == "[]" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
