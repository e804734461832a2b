package sensor

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/mutker/jolt/internal/logger"
)

const milliWattsToWatts = 1000

// nvmlGPU reads discrete-GPU power draw through NVML. Machines without
// an NVIDIA device simply run without GPU wattage.
type nvmlGPU struct {
	device nvml.Device
}

func newNVMLGPU() *nvmlGPU {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("NVML unavailable, GPU power disabled")
		return nil
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS || count == 0 {
		nvml.Shutdown()
		return nil
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil
	}

	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		logger.Debug().Str("gpu", name).Msg("NVML GPU power enabled")
	}

	return &nvmlGPU{device: device}
}

func (g *nvmlGPU) watts() (float64, bool) {
	usage, ret := g.device.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, false
	}
	return float64(usage) / milliWattsToWatts, true
}

func (g *nvmlGPU) close() {
	nvml.Shutdown()
}
