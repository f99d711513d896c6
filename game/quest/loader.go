package quest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LoadDefinitions reads every *.json file in dir as one quest Definition,
// validates it, and returns the set keyed by quest id. A file that fails to
// parse or validate aborts the load: bad authoring should be caught at boot,
// not at play time.
func LoadDefinitions(dir string, logger *zap.Logger) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("quest: read definitions dir: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("quest: read %s: %w", path, err)
		}
		def := &Definition{}
		if err := json.Unmarshal(raw, def); err != nil {
			return nil, fmt.Errorf("quest: parse %s: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("quest: %s: %w", path, err)
		}
		if _, dup := defs[def.ID]; dup {
			return nil, fmt.Errorf("quest: duplicate quest id %q in %s", def.ID, path)
		}
		defs[def.ID] = def
	}

	logger.Info("quest definitions loaded",
		zap.String("dir", dir),
		zap.Int("count", len(defs)))
	return defs, nil
}
