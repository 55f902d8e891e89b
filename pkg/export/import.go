package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/storage"
)

// ReadJSON decodes a JSON export envelope back into a lossless table. Every
// record is validated before assembly; a single malformed record rejects
// the whole import so storage never holds a partially valid batch. The
// returned table re-enters the pipeline like any other lossless data.
func ReadJSON(r io.Reader) (*rollup.Table, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode export envelope: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export format version %d (expected %d)", env.Version, FormatVersion)
	}
	if len(env.Records) == 0 {
		return nil, fmt.Errorf("export envelope carries no records")
	}

	for i, rec := range env.Records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d is invalid: %w", i, err)
		}
	}

	table, err := storage.TableFromRecords(env.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble table from records: %w", err)
	}
	return table, nil
}
