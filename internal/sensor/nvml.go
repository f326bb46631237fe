package sensor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	milliWattsToWatts = 1000
	// Board power is drawn from the 12V rail; current is derived from it.
	railVoltage = 12.0
)

// gpuDevice is the subset of nvml.Device the source reads.
type gpuDevice interface {
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
}

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// NVML reads live GPU telemetry, treating GPU index N-1 as machine N.
// Readings carry no ground truth label.
type NVML struct {
	mu       sync.Mutex
	devices  map[int]gpuDevice
	lookup   func(index int) (gpuDevice, error)
	shutdown func() nvml.Return
	now      func() time.Time
}

// NewNVML initializes NVML. Call Close when done.
func NewNVML() (*NVML, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errFactory.Wrap(ErrNVMLInit, nvmlError{ret})
	}

	return &NVML{
		devices: make(map[int]gpuDevice),
		lookup: func(index int) (gpuDevice, error) {
			device, ret := nvml.DeviceGetHandleByIndex(index)
			if ret != nvml.SUCCESS {
				return nil, nvmlError{ret}
			}
			return device, nil
		},
		shutdown: nvml.Shutdown,
		now:      time.Now,
	}, nil
}

// DeviceCount returns the number of GPUs NVML can see.
func (s *NVML) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, errors.New().Wrap(ErrNVMLInit, nvmlError{ret})
	}
	return count, nil
}

func (s *NVML) device(machineID int) (gpuDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[machineID]; ok {
		return d, nil
	}
	d, err := s.lookup(machineID - 1)
	if err != nil {
		return nil, errors.New().Wrap(ErrInvalidMachine, err)
	}
	s.devices[machineID] = d
	return d, nil
}

func (s *NVML) Next(ctx context.Context, machineID int) (Reading, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	d, err := s.device(machineID)
	if err != nil {
		return Reading{}, err
	}

	temp, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return Reading{}, errFactory.Wrap(ErrReadFailed, nvmlError{ret})
	}

	r := Reading{
		MachineID:   machineID,
		Timestamp:   s.now(),
		Temperature: Float(float64(temp)),
	}

	// Power readings are not supported on every board; leave current missing.
	if milliWatts, ret := d.GetPowerUsage(); ret == nvml.SUCCESS {
		watts := float64(milliWatts) / milliWattsToWatts
		r.Current = Float(round2(watts / railVoltage))
	}

	return r, nil
}

// Close shuts NVML down.
func (s *NVML) Close() error {
	if ret := s.shutdown(); ret != nvml.SUCCESS {
		return errors.New().Wrap(errors.ErrShutdownFailed, nvmlError{ret})
	}
	return nil
}
