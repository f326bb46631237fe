package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const vibrationSamples = 100

// band is a closed interval values are drawn from.
type band struct{ lo, hi float64 }

type profile struct {
	temperature, voltage, current, vibration band
}

var (
	normalProfile = profile{
		temperature: band{45, 60},
		voltage:     band{210, 235},
		current:     band{12, 17},
		vibration:   band{0.5, 1.5},
	}
	faultProfile = profile{
		temperature: band{65, 85},
		voltage:     band{240, 260},
		current:     band{18, 25},
		vibration:   band{2.0, 4.0},
	}
)

// Simulated generates labeled readings. A reading is drawn from the fault
// profile with probability faultProbability, otherwise from the normal one.
type Simulated struct {
	faultProbability float64
	now              func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated returns a generator seeded with seed. A zero seed uses the
// current time.
func NewSimulated(faultProbability float64, seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		faultProbability: faultProbability,
		now:              time.Now,
		rnd:              rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulated) Next(ctx context.Context, machineID int) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fault := s.rnd.Float64() < s.faultProbability
	p := normalProfile
	if fault {
		p = faultProfile
	}

	amplitude := s.uniform(p.vibration)
	vibration := make([]float64, vibrationSamples)
	for i := range vibration {
		// Amplitude-modulated sine with some noise around the profile level.
		vibration[i] = amplitude * (1 + 0.2*math.Sin(float64(i)/4) + 0.1*(s.rnd.Float64()-0.5))
	}

	r := Reading{
		MachineID:   machineID,
		Timestamp:   s.now(),
		Temperature: Float(round2(s.uniform(p.temperature))),
		Voltage:     Float(round2(s.uniform(p.voltage))),
		Current:     Float(round2(s.uniform(p.current))),
		Vibration:   vibration,
		Labeled:     true,
	}
	if fault {
		r.TrueFault = 1
	}
	return r, nil
}

func (s *Simulated) uniform(b band) float64 {
	return b.lo + s.rnd.Float64()*(b.hi-b.lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
