// Command kernelsim boots a small simulated multi-hart kernel: it parses a
// synthetic device-tree blob, sizes a buddy allocator from the -heap flag,
// starts the first user process, and runs every hart's scheduler until the
// init process's workload completes or a timeout elapses. It exists to exercise every package
// in this module together, the way main.c wires the real kernel's
// subsystems together at boot.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joeycumines/go-corekernel/buddy"
	"github.com/joeycumines/go-corekernel/devtree"
	"github.com/joeycumines/go-corekernel/klog"
	"github.com/joeycumines/go-corekernel/proc"
	"github.com/joeycumines/go-corekernel/simhart"
	"github.com/joeycumines/go-corekernel/vmfake"
)

func main() {
	harts := flag.Int("harts", 3, "number of simulated harts to boot")
	heap := flag.Uint64("heap", 1<<20, "bytes of memory for the buddy allocator")
	boot := flag.Duration("boot-timeout", 2*time.Second, "how long the simulation runs before shutting down")
	verbose := flag.Bool("v", false, "log at debug level instead of info")
	flag.Parse()

	level := klog.LevelInfo
	if *verbose {
		level = klog.LevelDebug
	}
	klog.SetLogger(klog.NewConsoleLogger(level))

	klog.Infof("main", "kernelsim booting")

	blob := syntheticDeviceTree(*heap)
	hdr := devtree.ParseHeader(blob)
	klog.Infof("main", "parsed device tree: %d bytes, %d reservation(s)", hdr.TotalSize, len(devtree.ParseReservations(blob, hdr)))

	b := buddy.New(*heap)
	klog.Infof("main", "buddy allocator ready: %d bytes free", b.HaveMem())

	k := proc.New(b, vmfake.NewFactory(b), proc.WithMaxHarts(*harts))

	initCode := []byte("init")
	done := make(chan int, 1)

	preInit := func(k *proc.Kernel) error {
		workload := func(k *proc.Kernel, p *proc.Proc) {
			klog.Infof("main", "pid %d (%s) running", p.Pid, p.Name)
			done <- p.Pid
		}
		k.UserInit(workload, initCode, nil)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *boot)
	defer cancel()

	go func() {
		select {
		case pid := <-done:
			klog.Infof("main", "init process (pid %d) completed its workload", pid)
		case <-ctx.Done():
		}
		cancel()
	}()

	if err := simhart.Boot(ctx, k, *harts, preInit); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		klog.Errorf("main", err, "simulation exited with error")
		os.Exit(1)
	}

	klog.Infof("main", "kernelsim shutting down; registry size %d, free mem %d", k.RegistrySize(), b.HaveMem())
}

// syntheticDeviceTree builds a minimal, well-formed FDT blob (header plus
// one terminating all-zero reservation entry), standing in for the blob a
// boot loader would otherwise hand the kernel. The blob's contents do not
// depend on heap.
func syntheticDeviceTree(heap uint64) []byte {
	const headerWords = 10
	const reservationEntrySize = 16 // two big-endian uint64 fields

	headerSize := headerWords * 4
	rsvOff := headerSize
	totalSize := rsvOff + reservationEntrySize

	blob := make([]byte, totalSize)
	be := binary.BigEndian
	be.PutUint32(blob[0:4], devtree.Magic)
	be.PutUint32(blob[4:8], uint32(totalSize))
	be.PutUint32(blob[8:12], uint32(totalSize))  // off_dt_struct (unused by this simulation)
	be.PutUint32(blob[12:16], uint32(totalSize)) // off_dt_strings
	be.PutUint32(blob[16:20], uint32(rsvOff))
	be.PutUint32(blob[20:24], devtree.ExpectedVersion)
	be.PutUint32(blob[24:28], devtree.LastCompVersion)
	be.PutUint32(blob[28:32], 0) // boot_cpuid_phys
	be.PutUint32(blob[32:36], 0) // size_dt_strings
	be.PutUint32(blob[36:40], 0) // size_dt_struct

	return blob
}
