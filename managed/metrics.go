// Copyright 2016 Aleksandr Demakin. All rights reserved.

package managed

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shmheap"

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports statistics of a region as prometheus metrics.
// The values are read from the region on every scrape.
type Collector struct {
	m *Manager

	capacity    *prometheus.Desc
	used        *prometheus.Desc
	free        *prometheus.Desc
	largestFree *prometheus.Desc
	usedBlocks  *prometheus.Desc
	freeBlocks  *prometheus.Desc
	objects     *prometheus.Desc
	allocs      *prometheus.Desc
	frees       *prometheus.Desc
	allocErrors *prometheus.Desc
}

// NewCollector creates a collector for the region of the manager.
func NewCollector(m *Manager) *Collector {
	labels := prometheus.Labels{"region": m.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, labels)
	}
	return &Collector{
		m:           m,
		capacity:    desc("capacity_bytes", "Size of the region."),
		used:        desc("used_bytes", "Bytes occupied by allocated blocks, including headers."),
		free:        desc("free_bytes", "Bytes in free blocks."),
		largestFree: desc("largest_free_block_bytes", "Size of the largest free block."),
		usedBlocks:  desc("used_blocks", "Number of allocated blocks."),
		freeBlocks:  desc("free_blocks", "Number of free blocks."),
		objects:     desc("objects", "Number of named objects."),
		allocs:      desc("allocations_total", "Number of successful allocations."),
		frees:       desc("deallocations_total", "Number of deallocations."),
		allocErrors: desc("allocation_errors_total", "Number of allocations failed for lack of space."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.used
	ch <- c.free
	ch <- c.largestFree
	ch <- c.usedBlocks
	ch <- c.freeBlocks
	ch <- c.objects
	ch <- c.allocs
	ch <- c.frees
	ch <- c.allocErrors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st, err := c.m.Stats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.capacity, err)
		return
	}
	gauge := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(c.capacity, st.Capacity)
	gauge(c.used, st.UsedBytes)
	gauge(c.free, st.FreeBytes)
	gauge(c.largestFree, st.LargestFreeBlock)
	gauge(c.usedBlocks, st.UsedBlocks)
	gauge(c.freeBlocks, st.FreeBlocks)
	gauge(c.objects, st.Objects)
	counter(c.allocs, st.Allocations)
	counter(c.frees, st.Deallocations)
	counter(c.allocErrors, st.AllocationErrors)
}
