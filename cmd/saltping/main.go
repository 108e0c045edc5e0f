// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// saltping measures the round trip time to a running saltd node through its
// diagnostic echo opcode.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/msgnet"
	"github.com/yhzhang0128/salticidae/netaddr"
)

const opEcho msg.Opcode = 0x02

func main() {
	count := flag.Int("c", 4, "number of echo requests")
	interval := flag.Duration("i", time.Second, "interval between requests")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("Usage: %s [-c count] [-i interval] host:port", os.Args[0])
	}

	target, err := netaddr.NewNetAddrFromString(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("Invalid target address")
	}

	echoes := make(chan []byte, 16)
	connected := make(chan struct{}, 1)

	network := msgnet.NewMsgNetwork(msgnet.DefaultConfig(), msgnet.Hooks{})
	network.RegHandler(opEcho, func(m msg.Msg, conn *msgnet.Conn) {
		echoes <- m.Payload()
	})
	network.RegConnHandler(func(conn *msgnet.Conn, isConnected bool) {
		if isConnected {
			connected <- struct{}{}
		} else {
			log.Fatal("Connection lost")
		}
	})

	network.Start()
	defer network.Stop()

	conn, err := network.Connect(target)
	if err != nil {
		log.WithError(err).Fatal("Connect failed")
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		log.Fatal("Connection timed out")
	}

	for i := 0; i < *count; i++ {
		payload := []byte(fmt.Sprintf("saltping %d %d", i, time.Now().UnixNano()))
		start := time.Now()

		if !network.SendMsg(network.NewMsg(opEcho, payload), conn) {
			log.Fatal("Send failed")
		}

		select {
		case back := <-echoes:
			if string(back) != string(payload) {
				log.Fatalf("Payload mismatch: %q != %q", back, payload)
			}
			fmt.Printf("%d bytes from %v: seq=%d time=%v\n",
				len(back), target, i, time.Since(start).Round(time.Microsecond))

		case <-time.After(5 * time.Second):
			fmt.Printf("timeout for seq=%d\n", i)
		}

		if i != *count-1 {
			time.Sleep(*interval)
		}
	}
}
