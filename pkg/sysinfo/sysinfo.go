package sysinfo

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// Probe defaults used when detection fails
const (
	DefaultCPUCores = 1
	DefaultCPUModel = "Unknown"
	DefaultRAMGb    = 4
)

// Probe detects the host's hardware specs. Every field degrades to a
// documented default when the underlying facility is unavailable, so the
// returned Specs is always usable for registration.
func Probe() types.Specs {
	specs := types.Specs{
		CPUCores:  cpuCores(),
		CPUModel:  cpuModel(),
		RAMGb:     ramGb(),
		HasDocker: dockerAvailable(),
	}

	if name, memGb, ok := gpuInfo(); ok {
		specs.GPUName = name
		specs.GPUMemoryGb = memGb
	}

	return specs
}

func cpuCores() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return DefaultCPUCores
}

func cpuModel() string {
	switch runtime.GOOS {
	case "linux":
		if model := procCPUModel("/proc/cpuinfo"); model != "" {
			return model
		}
	case "darwin":
		out, err := exec.Command("sysctl", "-n", "machdep.cpu.brand_string").Output()
		if err == nil {
			if model := strings.TrimSpace(string(out)); model != "" {
				return model
			}
		}
	}
	return DefaultCPUModel
}

func procCPUModel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			if _, value, found := strings.Cut(line, ":"); found {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

func ramGb() float64 {
	if runtime.GOOS == "linux" {
		if gb := procMemTotalGb("/proc/meminfo"); gb > 0 {
			return gb
		}
	}
	if runtime.GOOS == "darwin" {
		out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
		if err == nil {
			if bytes, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64); err == nil && bytes > 0 {
				return roundGb(float64(bytes) / (1 << 30))
			}
		}
	}
	return DefaultRAMGb
}

func procMemTotalGb(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseFloat(fields[1], 64); err == nil {
					return roundGb(kb / (1 << 20))
				}
			}
		}
	}
	return 0
}

// gpuInfo queries nvidia-smi for the first GPU's name and memory
func gpuInfo() (string, float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total", "--format=csv,noheader").Output()
	if err != nil {
		return "", 0, false
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", 0, false
	}

	name := strings.TrimSpace(parts[0])
	memField := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "MiB"))
	memMiB, err := strconv.ParseFloat(strings.TrimSpace(memField), 64)
	if err != nil {
		return name, 0, true
	}
	return name, roundGb(memMiB / 1024), true
}

// dockerAvailable pings the Docker daemon through the SDK
func dockerAvailable() bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		logger := log.WithComponent("sysinfo")
		logger.Debug().Err(err).Msg("docker daemon not reachable")
		return false
	}
	return true
}

func roundGb(gb float64) float64 {
	return float64(int(gb*100+0.5)) / 100
}
