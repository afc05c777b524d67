package metadata

import (
	"os"
	"strconv"
)

// detectEnvironment inspects well-known environment variables for FaaS
// and container signals (spec.md §4.8). If more than one FaaS provider's
// signals are present at once, every FaaS field is cleared (a conflict
// is treated as "unknown", never guessed); container signals are still
// recorded.
func detectEnvironment() Environment {
	candidates := 0
	var env Environment

	if v, ok := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); ok && v != "" {
		candidates++
		env.Name = "aws.lambda"
		env.MemoryMB = atoiOrZero(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
		env.Region = os.Getenv("AWS_REGION")
	}
	if v, ok := os.LookupEnv("FUNCTIONS_WORKER_RUNTIME"); ok && v != "" {
		candidates++
		env.Name = "azure.func"
	}
	if v, ok := os.LookupEnv("K_SERVICE"); ok && v != "" {
		candidates++
		env.Name = "gcp.func"
		env.MemoryMB = atoiOrZero(os.Getenv("FUNCTION_MEMORY_MB"))
		env.TimeoutSec = atoiOrZero(os.Getenv("FUNCTION_TIMEOUT_SEC"))
		env.Region = os.Getenv("FUNCTION_REGION")
	}
	if v, ok := os.LookupEnv("VERCEL"); ok && v != "" {
		candidates++
		env.Name = "vercel"
		env.Region = os.Getenv("VERCEL_REGION")
	}

	if candidates > 1 {
		// Conflicting FaaS signals: strip rather than guess.
		env = Environment{}
	}

	env.Container = detectContainerSignals()
	return env
}

func detectContainerSignals() ContainerSignals {
	var c ContainerSignals
	if v := os.Getenv("KUBERNETES_SERVICE_HOST"); v != "" {
		c.Kubernetes = true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		c.Docker = true
	}
	return c
}

// atoiOrZero parses an environment variable that should be numeric; a
// malformed value is dropped (treated as absent) rather than causing a
// construction error, matching spec.md §4.8's "bad value types strip the
// offending keys".
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
