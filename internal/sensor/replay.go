package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"codeberg.org/mutker/fogpdm/internal/errors"
)

// Replay serves a fixed sequence of readings per machine, in order. Once a
// machine's sequence is used up Next returns an ErrExhausted error.
type Replay struct {
	mu       sync.Mutex
	readings map[int][]Reading
	pos      map[int]int
}

// NewReplay builds a replay source from readings. Readings keep their
// relative order within each machine.
func NewReplay(readings []Reading) *Replay {
	r := &Replay{
		readings: make(map[int][]Reading),
		pos:      make(map[int]int),
	}
	for _, reading := range readings {
		r.readings[reading.MachineID] = append(r.readings[reading.MachineID], reading)
	}
	return r
}

// LoadReplay reads one JSON encoded Reading per line from path.
func LoadReplay(path string) (*Replay, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReplayLoad, err)
	}
	defer f.Close()

	var readings []Reading
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r Reading
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, errFactory.WithData(ErrReplayLoad, struct {
				Path  string
				Line  int
				Error string
			}{path, line, err.Error()})
		}
		readings = append(readings, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, errFactory.Wrap(ErrReplayLoad, err)
	}

	return NewReplay(readings), nil
}

func (r *Replay) Next(ctx context.Context, machineID int) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.readings[machineID]
	i := r.pos[machineID]
	if i >= len(seq) {
		return Reading{}, errors.New().WithData(ErrExhausted, machineID)
	}
	r.pos[machineID] = i + 1

	return seq[i], nil
}

// Len returns the number of readings queued for machineID, consumed or not.
func (r *Replay) Len(machineID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings[machineID])
}
