// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// loadgen is a tiny, dependency-free concurrent HTTP load generator tailored
// to the chat-completion endpoint. It reuses HTTP connections (keep-alive)
// and fans requests across a configurable worker pool so demo scripts and
// ad-hoc limit testing run fast without relying on external tools.
//
// Modes:
//   - single: send N requests for a single model
//   - zipf:   approximate 80/20 skew (hot/cold) without PRNG: send the hot
//     model 4/5 of the time
//
// Usage examples:
//
//	loadgen -base=http://127.0.0.1:8080 -mode=single -model=gpt-chat -n=5000 -c=16
//	loadgen -base=http://127.0.0.1:8080 -mode=zipf -hot_model=gpt-chat -cold_models=5 -n=8000 -c=16
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeZipf   modeType = "zipf"
)

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		path     = flag.String("path", "/v1/chat/completions", "Request path")
		modeS    = flag.String("mode", string(modeSingle), "Mode: single|zipf")
		model    = flag.String("model", "gpt-chat", "Model for single mode")
		hotModel = flag.String("hot_model", "gpt-chat", "Hot model for zipf mode")
		coldN    = flag.Int("cold_models", 5, "Number of cold models to round-robin in zipf mode")
		hotEvery = flag.Int("hot_every", 5, "Zipf-like skew period (all but 1 of every this-many requests go to the hot model; minimum 2)")
		N        = flag.Int("n", 5000, "Total requests to send")
		conc     = flag.Int("c", 8, "Number of concurrent workers")

		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeZipf {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|zipf)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeZipf {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_models must be > 0 in zipf mode")
			os.Exit(2)
		}
		if *hotEvery < 2 {
			*hotEvery = 2
		}
	}

	baseURL := strings.TrimRight(*base, "/")
	p := *path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	fullURL := baseURL + p

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var sent, failed int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&sent, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var mdl string
			if m == modeSingle {
				mdl = *model
			} else if ((i + id) % *hotEvery) != 0 {
				mdl = *hotModel
			} else {
				idx := ((i + id) % *coldN) + 1
				mdl = fmt.Sprintf("cold-model-%d", idx)
			}
			body := fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"load test"}]}`, mdl)
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader([]byte(body)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			if resp.StatusCode >= 400 {
				atomic.AddInt64(&failed, 1)
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}

	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s Failed=%d\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, atomic.LoadInt64(&failed))
}
