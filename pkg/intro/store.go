package intro

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m1k1o/localwatch/internal/utils"
)

const (
	StoreFileName = "intro-verdicts.json"
	storeVersion  = 1
)

type Status string

const (
	StatusOK           Status = "ok"
	StatusUnreferenced Status = "unreferenced"
	StatusFailed       Status = "failed"
)

// Failure and unreferenced reasons.
const (
	ReasonLowConfidence       = "low-confidence"
	ReasonReferenceUnloadable = "reference-unloadable"
	ReasonTargetUndecodable   = "target-undecodable"
	ReasonNoMapping           = "no-mapping"
	ReasonMissingReference    = "missing-reference"
)

// Fingerprint identifies a file revision.
type Fingerprint struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime"` // unix milliseconds
}

func FingerprintOf(info os.FileInfo) Fingerprint {
	return Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime().UnixMilli(),
	}
}

func fingerprintPath(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return FingerprintOf(info), nil
}

// Verdict is a cached detection outcome. Only StatusOK carries a window.
type Verdict struct {
	Status     Status       `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Start      float64      `json:"start,omitempty"` // seconds
	End        float64      `json:"end,omitempty"`   // seconds
	Score      float64      `json:"score"`
	Reference  string       `json:"reference,omitempty"`
	Source     Fingerprint  `json:"source"`
	RefPrint   *Fingerprint `json:"reference_fingerprint,omitempty"`
	DetectedAt time.Time    `json:"detected_at"`
}

// Window returns the skip range, ok only for valid verdicts.
func (v Verdict) Window() (start, end time.Duration, ok bool) {
	if v.Status != StatusOK || v.End <= v.Start {
		return 0, 0, false
	}
	return time.Duration(v.Start * float64(time.Second)), time.Duration(v.End * float64(time.Second)), true
}

type storeFile struct {
	Version  int                `json:"version"`
	Verdicts map[string]Verdict `json:"verdicts"`
}

// Store is a JSON file of verdicts keyed by source relative path, one
// per cache scope. Methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex
}

func (s *Store) load(path string) (storeFile, error) {
	data := storeFile{Version: storeVersion, Verdicts: map[string]Verdict{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return data, err
	}

	if err := json.Unmarshal(raw, &data); err != nil {
		// corrupt file is rebuilt
		return storeFile{Version: storeVersion, Verdicts: map[string]Verdict{}}, nil
	}

	if data.Version != storeVersion || data.Verdicts == nil {
		data = storeFile{Version: storeVersion, Verdicts: map[string]Verdict{}}
	}

	return data, nil
}

func (s *Store) Get(dir, relPath string) (Verdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load(filepath.Join(dir, StoreFileName))
	if err != nil {
		return Verdict{}, false, err
	}

	v, ok := data.Verdicts[relPath]
	return v, ok, nil
}

func (s *Store) Put(dir, relPath string, verdict Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(dir, StoreFileName)
	data, err := s.load(path)
	if err != nil {
		return err
	}

	data.Verdicts[relPath] = verdict

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	if err := utils.WriteFileAtomic(path, raw, 0644); err != nil {
		return fmt.Errorf("unable to write intro verdicts: %w", err)
	}
	return nil
}
