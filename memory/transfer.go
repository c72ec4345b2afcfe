package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/becomeliminal/nim-memory/internal/logging"
)

// Record is the import format for a memory. Only Content is required;
// full MemoryItem exports decode into it as well.
type Record struct {
	Content    string            `json:"content"`
	MemoryType string            `json:"memory_type,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Export writes every memory of userID to w as an indented JSON array.
func Export(ctx context.Context, mgr Manager, userID string, w io.Writer) (int, error) {
	items, err := mgr.GetAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	if items == nil {
		items = []MemoryItem{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return 0, &Error{Op: "export", Kind: KindSerialization, Err: fmt.Errorf("encode memories: %w", err)}
	}
	return len(items), nil
}

// ExportFile writes the user's memories to path.
func ExportFile(ctx context.Context, mgr Manager, userID string, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &Error{Op: "export", Kind: KindSerialization, Err: fmt.Errorf("create %s: %w", path, err)}
	}
	n, err := Export(ctx, mgr, userID, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &Error{Op: "export", Kind: KindSerialization, Err: fmt.Errorf("close %s: %w", path, cerr)}
	}
	if err != nil {
		return 0, err
	}
	logging.Infof("[MEMORY] Exported %d memories for %s to %s", n, userID, path)
	return n, nil
}

// Import reads a JSON array of records from r and adds them for userID.
// Records without content are counted as failures; the rest of the set is
// still imported.
func Import(ctx context.Context, mgr Manager, userID string, r io.Reader, batchSize int) (*BatchResult, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, &Error{Op: "import", Kind: KindSerialization, Err: fmt.Errorf("decode records: %w", err)}
	}

	ops := make([]BatchOp, 0, len(records))
	for _, rec := range records {
		op := AddOp(rec.Content, rec.MemoryType)
		op.Metadata = rec.Metadata
		ops = append(ops, op)
	}

	p := NewBatchProcessor(batchSize)
	p.ContinueOnError = true
	return p.Apply(ctx, mgr, userID, ops), nil
}

// ImportFile imports the records stored at path.
func ImportFile(ctx context.Context, mgr Manager, userID string, path string, batchSize int) (*BatchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Op: "import", Kind: KindSerialization, Err: fmt.Errorf("open %s: %w", path, err)}
	}
	defer f.Close()

	res, err := Import(ctx, mgr, userID, f, batchSize)
	if err != nil {
		return nil, err
	}
	logging.Infof("[MEMORY] Imported %d/%d memories for %s from %s", res.Successful, res.Total, userID, path)
	return res, nil
}
