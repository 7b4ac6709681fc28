// Package distrib spreads evaluation waves over a set of workers. The
// coordinator chunks the wave into JSON batches, scatters them, and folds
// the evaluated individuals back into the caller's population by ID. A
// worker may live in the same process or behind any byte transport.
package distrib

import (
	"encoding/json"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/evolve"
)

// batchPayload is the wire format of one scatter/gather hand-off.
type batchPayload[G evolve.Genome[G]] struct {
	ID          string               `json:"id"`
	Individuals evolve.Population[G] `json:"individuals"`
}

// EncodeBatch serializes a batch of individuals under a batch ID.
func EncodeBatch[G evolve.Genome[G]](id string, inds evolve.Population[G]) ([]byte, error) {
	data, err := json.Marshal(batchPayload[G]{ID: id, Individuals: inds})
	if err != nil {
		return nil, errors.Wrap(err, errors.EvaluationFailed, "failed to encode batch")
	}
	return data, nil
}

// DecodeBatch deserializes a batch produced by EncodeBatch.
func DecodeBatch[G evolve.Genome[G]](data []byte) (string, evolve.Population[G], error) {
	var payload batchPayload[G]
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil, errors.Wrap(err, errors.EvaluationFailed, "failed to decode batch")
	}
	return payload.ID, payload.Individuals, nil
}
