// Copyright 2016 Aleksandr Demakin. All rights reserved.

package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/nxgtw/shmheap/container"
	"github.com/nxgtw/shmheap/managed"

	"github.com/pkg/errors"
)

var (
	objName  = flag.String("object", "", "region name")
	capacity = flag.Int("capacity", 0, "if not 0, the region is created with this capacity")
)

const usage = `  test program for managed regions.
available commands:
  fill vector n
    creates a vector of int64 with values 0..n-1
  check vector n
    checks, that the vector contains values 0..n-1
  consume vector n
    checks the vector, destroys it and removes the region
  alloc n size
    performs n allocations and deallocations of the given size
`

func openManager() (*managed.Manager, error) {
	if *capacity > 0 {
		return managed.Create(*objName, *capacity)
	}
	return managed.Open(*objName)
}

func intArg(idx int) (int, error) {
	return strconv.Atoi(flag.Arg(idx))
}

func fill(m *managed.Manager) error {
	if flag.NArg() != 3 {
		return errors.New("fill: must provide exactly two arguments")
	}
	n, err := intArg(2)
	if err != nil {
		return err
	}
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i)
	}
	_, err = container.NewVector(m, flag.Arg(1), values...)
	return err
}

func check(m *managed.Manager) error {
	if flag.NArg() != 3 {
		return errors.New("check: must provide exactly two arguments")
	}
	n, err := intArg(2)
	if err != nil {
		return err
	}
	v, err := container.FindVector[int64](m, flag.Arg(1))
	if err != nil {
		return err
	}
	if v.Len() != n {
		return errors.Errorf("invalid vector len %d, expected %d", v.Len(), n)
	}
	for i, value := range v.Values() {
		if value != int64(i) {
			return errors.Errorf("invalid value at %d: %d", i, value)
		}
	}
	return nil
}

func consume(m *managed.Manager) error {
	if err := check(m); err != nil {
		return err
	}
	if err := container.DestroyVector[int64](m, flag.Arg(1)); err != nil {
		return err
	}
	return managed.Remove(*objName)
}

func alloc(m *managed.Manager) error {
	if flag.NArg() != 3 {
		return errors.New("alloc: must provide exactly two arguments")
	}
	n, err := intArg(1)
	if err != nil {
		return err
	}
	size, err := intArg(2)
	if err != nil {
		return err
	}
	var offsets []managed.Offset
	for i := 0; i < n; i++ {
		off, err := m.Allocate(rand.Intn(size) + 1)
		if err != nil {
			return err
		}
		offsets = append(offsets, off)
		if len(offsets) > 8 {
			idx := rand.Intn(len(offsets))
			if err := m.Deallocate(offsets[idx]); err != nil {
				return err
			}
			offsets = append(offsets[:idx], offsets[idx+1:]...)
		}
	}
	for _, off := range offsets {
		if err := m.Deallocate(off); err != nil {
			return err
		}
	}
	return nil
}

func runCommand() error {
	if len(*objName) == 0 {
		return errors.New("object name is not set")
	}
	command := flag.Arg(0)
	var fun func(m *managed.Manager) error
	switch command {
	case "fill":
		fun = fill
	case "check":
		fun = check
	case "consume":
		fun = consume
	case "alloc":
		fun = alloc
	default:
		return errors.Errorf("unknown command %q", command)
	}
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()
	return fun(m)
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Print(usage)
		flag.Usage()
		os.Exit(1)
	}
	if err := runCommand(); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
