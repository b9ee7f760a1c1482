// Copyright 2025 KrakLabs
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
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSession holds the Prometheus metrics for the session subsystem,
// mirroring pkg/ingestion/metrics.go's sync.Once-guarded package-level
// registration shape.
type metricsSession struct {
	once sync.Once

	testsSelected prometheus.Counter
	txRetries     prometheus.Counter
	duration      prometheus.Histogram
}

var metrics metricsSession

func (m *metricsSession) init() {
	m.once.Do(func() {
		m.testsSelected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ezmon_tests_selected_total",
			Help: "Total test results successfully recorded by the session orchestrator",
		})
		m.txRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ezmon_store_tx_retries_total",
			Help: "Total record_batch retries due to a transient backend failure",
		})
		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezmon_session_duration_seconds",
			Help:    "Wall-clock duration of a full session, initiate to finish",
			Buckets: buckets,
		})
		prometheus.MustRegister(m.testsSelected, m.txRetries, m.duration)
	})
}

func (m *metricsSession) recordTestsSelected(n int) {
	m.init()
	m.testsSelected.Add(float64(n))
}

func (m *metricsSession) recordRetry() {
	m.init()
	m.txRetries.Inc()
}
