package sqlitestore

import (
	"encoding/json"

	"github.com/brainstem-run/brainstem/internal/domain"
)

func encodeResponse(resp domain.RememberResponse) (string, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeResponse(s string) (domain.RememberResponse, error) {
	var resp domain.RememberResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return resp, err
	}
	return resp, nil
}
