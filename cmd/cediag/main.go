// Copy Engine host/target DMA transport — diagnostic CLI
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command cediag exercises a Copy Engine device against a simulated
// wireless target (package sim) over a simulated MMIO register file
// (package hif/mmiosim), optionally serving a live diagnostics dashboard
// (package diag). It takes the place of a real PCIe/SDIO bring-up tool,
// following cmd/tamago's own stdlib-flag-only argument handling.
package main

import (
	"flag"
	"log"
	"net"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/wlanhost/ce/ce"
	"github.com/wlanhost/ce/diag"
	"github.com/wlanhost/ce/dmabuf"
	"github.com/wlanhost/ce/hif/mmiosim"
	"github.com/wlanhost/ce/regtable"
	"github.com/wlanhost/ce/sim"
)

const (
	engineID = 0

	hostMAC   = "1a:55:89:a2:69:42"
	deviceMAC = "1a:55:89:a2:69:41"

	arenaSize = 4 << 20
	mmioSize  = 0x58000

	srNEntries  = 64
	dstNEntries = 64
	srSzMax     = 2048
)

func main() {
	dashboardAddr := flag.String("dashboard", "", "address to serve the diagnostics dashboard on (e.g. localhost:8081); empty disables it")
	pingTarget := flag.String("ping", "10.0.0.2", "address named in the ICMP readiness log line once the simulated link is up (no echo request is sent)")
	duration := flag.Duration("duration", 5*time.Second, "how long to run before exiting")
	flag.Parse()

	hostAddr, err := net.ParseMAC(hostMAC)
	if err != nil {
		log.Fatalf("parse host MAC: %v", err)
	}

	deviceAddr, err := net.ParseMAC(deviceMAC)
	if err != nil {
		log.Fatalf("parse device MAC: %v", err)
	}

	region := dmabuf.NewRegion(arenaSize)

	target := sim.New(region, regtable.AR9888, engineID, tcpip.LinkAddress(deviceAddr), hostAddr, deviceAddr)

	mmio, err := mmiosim.New(mmioSize, target)
	if err != nil {
		log.Fatalf("create simulated register file: %v", err)
	}
	defer mmio.Close()

	target.BindMMIO(mmio)

	device, err := ce.NewDevice(mmio, region, regtable.AR9888, 1)
	if err != nil {
		log.Fatalf("create device: %v", err)
	}

	engine, err := device.Init(engineID, ce.Attr{
		SrcNEntries:  srNEntries,
		DestNEntries: dstNEntries,
		SrcSzMax:     srSzMax,
	})
	if err != nil {
		log.Fatalf("init engine %d: %v", engineID, err)
	}

	var sampler *diag.Sampler
	if *dashboardAddr != "" {
		sampler = diag.NewSampler(device, []int{engineID})

		go func() {
			log.Printf("cediag: dashboard listening on http://%s/debug/ce", *dashboardAddr)
			if err := diag.ListenAndServe(*dashboardAddr, sampler); err != nil {
				log.Printf("cediag: dashboard server: %v", err)
			}
		}()
	}

	engine.RecvCBRegister(func(e *ce.Engine, ctx ce.Context, buf uint32, nbytes int, transferID uint16, flags ce.RecvFlags) {
		if sampler != nil {
			sampler.RecordRecv(e.ID(), nbytes)
		}

		// repost the buffer immediately so the ring keeps draining
		if err := e.RecvBufEnqueue(ctx, buf); err != nil {
			log.Printf("cediag: repost recv buffer: %v", err)
		}
	})

	engine.SendCBRegister(func(e *ce.Engine, ctx ce.Context, buf uint32, nbytes int, transferID uint16) {
		if sampler != nil {
			sampler.RecordSend(e.ID(), nbytes)
		}
	}, false)

	// seed the destination ring with empty receive buffers
	for i := 0; i < dstNEntries-1; i++ {
		busAddr, _, err := region.Alloc(2048, 8)
		if err != nil {
			log.Fatalf("allocate recv buffer: %v", err)
		}

		if err := engine.RecvBufEnqueue(nil, busAddr); err != nil {
			log.Fatalf("seed recv buffer: %v", err)
		}
	}

	go target.Run()
	defer target.Stop()

	go pumpInterrupts(device)

	s := buildNetworkStack(target)
	startPing(s, *pingTarget)

	log.Printf("cediag: running for %s", *duration)
	time.Sleep(*duration)
}

// pumpInterrupts stands in for a real interrupt line: it polls the device's
// wrapper summary register and services whichever engines have pending
// completions, the same call a real ISR would make.
func pumpInterrupts(device *ce.Device) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if err := device.PerEngineServiceAny(); err != nil {
			log.Printf("cediag: per_engine_service_any: %v", err)
		}
	}
}

// buildNetworkStack attaches a minimal gVisor network stack to the
// simulated target's radio link, so traffic sent into the Copy Engine's
// source ring has somewhere real to arrive.
func buildNetworkStack(target *sim.Target) *stack.Stack {
	s := stack.New(stack.Options{
		NetworkProtocols: []stack.NetworkProtocol{
			ipv4.NewProtocol(),
			arp.NewProtocol(),
		},
		TransportProtocols: []stack.TransportProtocol{
			tcp.NewProtocol(),
			udp.NewProtocol(),
			icmp.NewProtocol4(),
		},
	})

	const nic = tcpip.NICID(1)

	if err := s.CreateNIC(nic, target.Endpoint()); err != nil {
		log.Fatalf("create NIC: %v", err)
	}

	addr := tcpip.Address(net.ParseIP("10.0.0.1").To4())

	if err := s.AddAddress(nic, arp.ProtocolNumber, arp.ProtocolAddress); err != nil {
		log.Fatalf("add ARP address: %v", err)
	}
	if err := s.AddAddress(nic, ipv4.ProtocolNumber, addr); err != nil {
		log.Fatalf("add IPv4 address: %v", err)
	}

	subnet, err := tcpip.NewSubnet("\x00\x00\x00\x00", "\x00\x00\x00\x00")
	if err != nil {
		log.Fatalf("build default subnet: %v", err)
	}

	s.SetRouteTable([]tcpip.Route{{Destination: subnet, NIC: nic}})

	return s
}

// startPing opens and binds one ICMP endpoint on the stack's own address,
// following configureNetworkStack's own startICMPEndpoint pattern, and logs
// that target is ready to be pinged. It sends no echo request itself.
func startPing(s *stack.Stack, target string) {
	var wq waiter.Queue

	ep, err := s.NewEndpoint(icmp.ProtocolNumber4, ipv4.ProtocolNumber, &wq)
	if err != nil {
		log.Printf("cediag: icmp endpoint: %v", err)
		return
	}

	addr := tcpip.FullAddress{Addr: tcpip.Address(net.ParseIP("10.0.0.1").To4()), NIC: 1}
	if err := ep.Bind(addr); err != nil {
		log.Printf("cediag: icmp bind: %v", err)
		return
	}

	log.Printf("cediag: ready to ping %s over the simulated link", target)
}
