// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/yhzhang0128/salticidae/admin"
	"github.com/yhzhang0128/salticidae/discovery"
	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/msgnet"
	"github.com/yhzhang0128/salticidae/netaddr"
	"github.com/yhzhang0128/salticidae/peernet"
	"github.com/yhzhang0128/salticidae/peerstore"
)

// opEcho answers diagnostic echo requests, see cmd/saltping.
const opEcho msg.Opcode = 0x02

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Node      nodeConf
	Logging   logConf
	Admin     adminConf
	Discovery discoveryConf
	Network   networkConf
	Peer      []peerConf
}

// nodeConf describes the Node-configuration block.
type nodeConf struct {
	Listen  string
	NWorker int `toml:"nworker"`
	Store   string
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// adminConf describes the Admin-configuration block.
type adminConf struct {
	Listen string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	Enable   bool
	Interval uint
}

// networkConf describes the Network-configuration block.
type networkConf struct {
	MaxMsgSize       uint32 `toml:"max-msg-size"`
	MsgMagic         uint32 `toml:"msg-magic"`
	PingPeriodSec    uint   `toml:"ping-period"`
	ConnTimeoutSec   uint   `toml:"conn-timeout"`
	AllowUnknownPeer bool   `toml:"allow-unknown-peer"`
}

// peerConf describes one static peer block.
type peerConf struct {
	Address    string
	RetryDelay uint `toml:"retry-delay"`
	NTry       int  `toml:"ntry"`
}

// node bundles everything a running daemon consists of.
type node struct {
	listenAddr netaddr.NetAddr
	network    *peernet.PeerNetwork
	adminSrv   *admin.Server
	httpSrv    *http.Server
	disco      *discovery.Manager
	store      *peerstore.Store

	// peers tracks the registered peer addresses; guarded by peersLock
	// since discovery and config reloads run on their own goroutines.
	peersLock sync.Mutex
	peers     map[netaddr.NetAddr]struct{}
}

// parseLogging configures logrus from the Logging block.
func parseLogging(conf logConf) error {
	if conf.Level != "" {
		level, err := log.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown logging format %q", conf.Format)
	}

	return nil
}

// parseNode builds and starts a node from a configuration file.
func parseNode(filename string) (n *node, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if err = parseLogging(conf.Logging); err != nil {
		return
	}

	n = &node{peers: make(map[netaddr.NetAddr]struct{})}

	if n.listenAddr, err = netaddr.NewNetAddrFromString(conf.Node.Listen); err != nil {
		return
	}

	config := peernet.DefaultConfig()
	config.IDMode = peernet.AddrBased
	if conf.Node.NWorker > 0 {
		config.NWorker = conf.Node.NWorker
	}
	if conf.Network.MaxMsgSize > 0 {
		config.MaxMsgSize = conf.Network.MaxMsgSize
	}
	config.MsgMagic = conf.Network.MsgMagic
	if conf.Network.PingPeriodSec > 0 {
		config.PingPeriod = time.Duration(conf.Network.PingPeriodSec) * time.Second
	}
	if conf.Network.ConnTimeoutSec > 0 {
		config.ConnTimeout = time.Duration(conf.Network.ConnTimeoutSec) * time.Second
	}
	config.AllowUnknownPeer = conf.Network.AllowUnknownPeer

	n.network = peernet.NewPeerNetwork(config)
	n.network.RegHandler(opEcho, func(m msg.Msg, conn *msgnet.Conn) {
		n.network.SendMsg(n.network.NewMsg(opEcho, m.Payload()), conn)
	})

	if conf.Node.Store != "" {
		if n.store, err = peerstore.NewStore(conf.Node.Store); err != nil {
			return
		}
	}

	n.adminSrv = admin.NewServer(n.network)
	n.network.RegPeerHandler(func(conn *peernet.Conn, connected bool) {
		log.WithFields(log.Fields{
			"conn":      conn.String(),
			"connected": connected,
		}).Info("Peer event")

		n.adminSrv.NotifyPeer(conn.Addr(), connected)
	})
	n.network.RegUnknownPeerHandler(func(claimed netaddr.NetAddr, cert []byte) {
		log.WithFields(log.Fields{
			"claimed": claimed,
		}).Warn("Handshake from unknown peer")
	})
	n.network.RegErrorHandler(func(err error, fatal bool, asyncID int32) {
		entry := log.WithError(err).WithField("async-id", asyncID)
		if fatal {
			entry.Error("Network error")
		} else {
			entry.Warn("Recoverable network error")
		}
	})

	n.network.Start()
	if err = n.network.Listen(n.listenAddr); err != nil {
		return
	}

	// Statically configured peers plus everything remembered in the store.
	for _, peer := range conf.Peer {
		n.addPeer(peer.Address, peer.NTry, peer.RetryDelay)
	}
	if n.store != nil {
		items, storeErr := n.store.All()
		if storeErr != nil {
			err = storeErr
			return
		}
		for _, item := range items {
			n.addPeer(item.Addr, -1, 0)
		}
	}

	if conf.Admin.Listen != "" {
		n.httpSrv = &http.Server{Addr: conf.Admin.Listen, Handler: n.adminSrv}
		go func() {
			if httpErr := n.httpSrv.ListenAndServe(); httpErr != http.ErrServerClosed {
				log.WithError(httpErr).Error("Admin interface failed")
			}
		}()
	}

	if conf.Discovery.Enable {
		interval := time.Duration(conf.Discovery.Interval) * time.Second
		if interval == 0 {
			interval = 10 * time.Second
		}
		n.disco, err = discovery.NewManager(n.listenAddr, n.discovered, interval)
		if err != nil {
			return
		}
	}

	return
}

// addPeer registers and connects one peer address.
func (n *node) addPeer(address string, ntry int, retryDelaySec uint) {
	addr, err := netaddr.NewNetAddrFromString(address)
	if err != nil {
		log.WithError(err).WithField("peer", address).Warn("Skipping invalid peer address")
		return
	}
	if addr == n.listenAddr {
		return
	}

	n.peersLock.Lock()
	if _, known := n.peers[addr]; known {
		n.peersLock.Unlock()
		return
	}
	n.peers[addr] = struct{}{}
	n.peersLock.Unlock()

	if ntry == 0 {
		ntry = -1
	}
	retryDelay := time.Duration(retryDelaySec) * time.Second
	if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}

	pid := peernet.NewPeerIdFromAddr(addr)
	n.network.AddPeer(pid)
	n.network.SetPeerAddr(pid, addr)
	n.network.ConnPeer(pid, ntry, retryDelay)

	log.WithFields(log.Fields{
		"peer": pid.String(),
		"addr": addr,
	}).Info("Registered peer")
}

// discovered handles one address heard by the discovery manager.
func (n *node) discovered(addr netaddr.NetAddr) {
	n.peersLock.Lock()
	_, known := n.peers[addr]
	n.peersLock.Unlock()
	if known {
		return
	}

	n.addPeer(addr.String(), -1, 0)

	if n.store != nil {
		if err := n.store.Put(peernet.NewPeerIdFromAddr(addr), addr); err != nil {
			log.WithError(err).Warn("Persisting discovered peer failed")
		}
	}
}

// reload re-reads the static peer list from the configuration file.
func (n *node) reload(filename string) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		log.WithError(err).Warn("Reloading configuration failed")
		return
	}

	for _, peer := range conf.Peer {
		n.addPeer(peer.Address, peer.NTry, peer.RetryDelay)
	}
}

// close shuts all components down.
func (n *node) close() {
	if n.disco != nil {
		n.disco.Close()
	}
	if n.httpSrv != nil {
		n.httpSrv.Close()
	}
	if n.adminSrv != nil {
		n.adminSrv.Close()
	}
	if err := n.network.Stop(); err != nil {
		log.WithError(err).Warn("Stopping the network errored")
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.WithError(err).Warn("Closing the peer store errored")
		}
	}
}
