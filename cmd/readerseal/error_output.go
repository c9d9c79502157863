package main

import (
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
)

// writeJSONOutput prints one JSON object on stdout and returns the exit code.
// Error envelopes are normalized so automation always sees error, error_code,
// error_category, and hint together.
func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure"}`)
		return exitVerifyFailed
	}
	fmt.Println(string(encoded))
	return exitCode
}

func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	errorText, _ := result["error"].(string)
	if strings.TrimSpace(errorText) == "" {
		return json.Marshal(result)
	}
	if code, _ := result["error_code"].(string); strings.TrimSpace(code) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if category, _ := result["error_category"].(string); strings.TrimSpace(category) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if hint, _ := result["hint"].(string); strings.TrimSpace(hint) == "" {
		delete(result, "hint")
	}
	return json.Marshal(result)
}

// errorOutput builds the common failure envelope from a classified error.
func errorOutput(err error) map[string]any {
	output := map[string]any{
		"ok":    false,
		"error": err.Error(),
	}
	if code := coreerrors.CodeOf(err); code != "" {
		output["error_code"] = code
	}
	if category := coreerrors.CategoryOf(err); category != "" {
		output["error_category"] = string(category)
	}
	if hint := coreerrors.HintOf(err); hint != "" {
		output["hint"] = hint
	}
	return output
}

// exitCodeForError maps classified error categories onto the process exit
// contract: 2 for bad invocations, 1 for everything that went wrong while
// doing real work.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	if coreerrors.CategoryOf(err) == coreerrors.CategoryInvalidInput {
		return exitUsage
	}
	return exitVerifyFailed
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	if exitCode == exitUsage {
		return coreerrors.CategoryInvalidInput
	}
	return coreerrors.CategoryInternalFailure
}

func defaultErrorCode(exitCode int) string {
	if exitCode == exitUsage {
		return "invalid_input"
	}
	return "operation_failed"
}
