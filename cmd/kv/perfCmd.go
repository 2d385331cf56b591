package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dht/cmd/util"
	dbutil "github.com/ValentinKolb/dht/lib/db/util"
	"github.com/ValentinKolb/dht/rpc/common"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for a dht cluster",
		Long:    "Runs put/get/delete benchmarks against the configured endpoints. Every test works on its own set of keys and removes them afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfLargeValue = 100 * 1024
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSkip       []string
)

// perfTest is a single benchmark. prepare selects whether the keys are written beforehand.
type perfTest struct {
	name    string
	prepare bool
	op      func(key string, i int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().String(key, "100KiB", util.WrapString("Size of the value of the put-large test (e.g. 100KiB, 1MiB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	size, err := units.RAMInBytes(viper.GetString("large-value-size"))
	if err != nil {
		return fmt.Errorf("invalid large value size: %w", err)
	}
	perfLargeValue = int(size)
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for dht clusters")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Keys: %d, Large value: %s\n", perfNumThreads, perfKeySpread, units.BytesSize(float64(perfLargeValue)))
	fmt.Println()

	value := []byte("test")
	largeValue := make([]byte, perfLargeValue)

	tests := []perfTest{
		{name: "put", op: func(key string, _ int) error {
			return rpcStore.Put(key, value)
		}},
		{name: "put-large", op: func(key string, _ int) error {
			return rpcStore.Put(key, largeValue)
		}},
		{name: "get", prepare: true, op: func(key string, _ int) error {
			_, _, err := rpcStore.Get(key)
			return err
		}},
		{name: "get-missing", op: func(key string, _ int) error {
			_, _, err := rpcStore.Get(key)
			return err
		}},
		{name: "delete", prepare: true, op: func(key string, _ int) error {
			return rpcStore.Delete(key)
		}},
		{name: "mixed", prepare: true, op: func(key string, i int) error {
			switch i % 3 {
			case 0:
				return rpcStore.Put(key, value)
			case 1:
				_, _, err := rpcStore.Get(key)
				return err
			default:
				return rpcStore.Delete(key)
			}
		}},
	}

	fmt.Println("starting tests...")
	results := make(map[string]testing.BenchmarkResult, len(tests))
	for _, test := range tests {
		if slices.Contains(perfSkip, test.name) {
			printResult(test.name, testing.BenchmarkResult{})
			continue
		}
		results[test.name] = benchmark(test, value)
		printResult(test.name, results[test.name])
	}
	printSummary(results)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs test in parallel on its own keys and deletes them afterwards
func benchmark(test perfTest, value []byte) testing.BenchmarkResult {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, test.name, i)
	}

	return testing.Benchmark(func(b *testing.B) {
		if test.prepare {
			for _, k := range keys {
				if err := rpcStore.Put(k, value); err != nil {
					log.Printf("(%s) - error preparing key: %v\n", test.name, err)
				}
			}
		}

		b.Cleanup(func() {
			for _, k := range keys {
				if err := rpcStore.Delete(k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", test.name, err)
				}
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				if err := test.op(keys[i%len(keys)], i); err != nil {
					log.Printf("(%s) - %v\n", test.name, err)
				}
				i++
			}
		})
	})
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec(result))
}

// opsPerSec converts the time per operation of result to a throughput
func opsPerSec(result testing.BenchmarkResult) float64 {
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	return 1.0 / (nsPerOp / 1e9)
}

// summarize returns throughput statistics over all tests that ran
func summarize(results map[string]testing.BenchmarkResult) dbutil.Stats {
	values := make([]float64, 0, len(results))
	for _, result := range results {
		if result.N > 0 {
			values = append(values, opsPerSec(result))
		}
	}
	return dbutil.NewStats(values)
}

func printSummary(results map[string]testing.BenchmarkResult) {
	s := summarize(results)
	if s.Sum == 0 {
		return
	}
	fmt.Printf("\n%-20smin %.0f ops/sec\tmax %.0f ops/sec\tmean %.0f ops/sec\n", "summary", s.Min, s.Max, s.Mean)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount",
		"Threads", "LargeValueBytes", "Keys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, test := range names {
		result := results[test]
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValue),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
