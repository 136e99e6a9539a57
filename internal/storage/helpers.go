package storage

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/example/richtext-sync/internal/types"
)

func jsonMarshal(sv types.StateVector) ([]byte, error) {
	if sv == nil {
		sv = types.StateVector{}
	}
	return json.Marshal(sv)
}

func decodeStateVector(data []byte) (types.StateVector, error) {
	if len(data) == 0 {
		return types.StateVector{}, nil
	}
	var sv types.StateVector
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, err
	}
	return sv, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
