package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// correlatorData is the JSON structure for persistence.
type correlatorData struct {
	Labels  map[string]string `json:"labels"`
	Counter int               `json:"counter"`
	Updated string            `json:"updated"`
	Note    string            `json:"note"`
}

// Correlator assigns stable destination labels to origin containers,
// keyed by the origin-id hash, so re-running a job reuses the containers
// it created before. Assignments persist to a JSON file when a path is
// given.
type Correlator struct {
	mu      sync.Mutex
	path    string
	labels  map[string]string
	counter int
}

// NewCorrelator creates a correlator, loading prior assignments from
// path if the file exists.
func NewCorrelator(path string) *Correlator {
	c := &Correlator{
		path:   path,
		labels: make(map[string]string),
	}
	if path != "" {
		c.load()
	}
	return c
}

func (c *Correlator) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return // File doesn't exist, start fresh
	}
	var cd correlatorData
	if err := json.Unmarshal(data, &cd); err != nil {
		log.Warnf("could not load correlation file %s: %v", c.path, err)
		return
	}
	if cd.Labels != nil {
		c.labels = cd.Labels
	}
	c.counter = cd.Counter
	log.Infof("loaded %d container correlations from %s", len(c.labels), c.path)
}

func (c *Correlator) save() {
	if c.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		log.Warnf("could not create correlation directory: %v", err)
		return
	}
	cd := correlatorData{
		Labels:  c.labels,
		Counter: c.counter,
		Updated: time.Now().Format(time.RFC3339),
		Note:    "labels are keyed by sha1(origin container id)",
	}
	data, err := json.MarshalIndent(cd, "", "  ")
	if err != nil {
		log.Warnf("could not marshal correlation data: %v", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		log.Warnf("could not save correlation file: %v", err)
	}
}

// Label returns the destination label for an origin container id. A
// prior assignment wins; otherwise preferred is recorded when non-empty,
// and a generated label is assigned as a last resort.
func (c *Correlator) Label(originID, preferred string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := HashID(originID)
	if label, ok := c.labels[key]; ok {
		return label
	}
	label := preferred
	if label == "" {
		c.counter++
		label = fmt.Sprintf("EX-%06d", c.counter)
	}
	c.labels[key] = label
	c.save()
	return label
}

// Len returns the number of recorded assignments.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.labels)
}
