// Copyright 2018 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cluster brings up a multi-node compute cluster on top of a SLURM
// allocation: it elects the first allocated node as head, starts the
// cluster-manager head process bound to a generated shared secret, waits for
// the head to accept connections and joins the remaining nodes as workers.
package cluster

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/blang/semver"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/config"
	"github.com/hpcforge/raysub/log"
	"github.com/hpcforge/raysub/slurm"
)

const probeInterval = 500 * time.Millisecond

const probeDialTimeout = 2 * time.Second

// Info describes a cluster brought up by a Bootstrapper. HeadAddress and
// Secret are the two values every worker and the downstream workload depend
// on.
type Info struct {
	HeadNode    string
	HeadAddress string
	Secret      string
	Workers     []string
}

// Bootstrapper runs the bootstrap sequence for one job invocation
type Bootstrapper struct {
	cfg      config.Configuration
	client   slurm.Client
	launcher Launcher
	secret   string
	started  []string

	// probe and sleep are swappable for tests
	probe func(address string) error
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBootstrapper returns a Bootstrapper for the given configuration. The
// shared secret is generated here, once, unless the configuration provides
// one.
func NewBootstrapper(cfg config.Configuration, client slurm.Client) *Bootstrapper {
	secret := cfg.SharedSecret
	if secret == "" {
		secret = NewSharedSecret()
	}
	b := &Bootstrapper{
		cfg:      cfg,
		client:   client,
		launcher: NewLauncher(client, cfg),
		secret:   secret,
		sleep:    sleepCtx,
	}
	if cfg.IsRemote() {
		b.probe = b.remoteProbe
	} else {
		b.probe = localProbe
	}
	return b
}

// Bootstrap runs the whole sequence: node enumeration, head election,
// address resolution, head start and readiness wait, staggered worker joins.
// On failure in strict mode the processes already started are torn down
// unless the configuration asks not to.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*Info, error) {
	alloc, err := b.resolveNodes()
	if err != nil {
		return nil, err
	}

	if !b.cfg.SkipVersionCheck {
		if err := b.checkLauncherVersion(); err != nil {
			return nil, err
		}
	}

	headNode := alloc.Head()
	headIP, err := b.resolveHeadAddress(ctx, headNode)
	if err != nil {
		return nil, err
	}
	headAddress := JoinHostPort(headIP, b.cfg.HeadPort)
	log.Printf("Node %q elected as head, address %q", headNode, headAddress)

	err = b.launcher.StartHead(HeadSpec{
		Node:   headNode,
		IP:     headIP,
		Port:   b.cfg.HeadPort,
		Secret: b.secret,
		CPUs:   alloc.CPUsPerNode,
		GPUs:   alloc.GPUsPerNode,
	})
	if err != nil {
		if b.cfg.Strict {
			return nil, err
		}
		log.Printf("[Warning] %v", err)
	} else {
		b.started = append(b.started, headNode)
	}

	if err := b.waitForHead(ctx, headAddress); err != nil {
		return nil, b.abort(err)
	}

	info := &Info{HeadNode: headNode, HeadAddress: headAddress, Secret: b.secret}
	for i, node := range alloc.Workers() {
		if i > 0 {
			if err := b.sleep(ctx, b.cfg.WorkerStagger); err != nil {
				return nil, b.abort(err)
			}
		}
		err := b.launcher.JoinWorker(WorkerSpec{
			Node:        node,
			HeadAddress: headAddress,
			Secret:      b.secret,
			CPUs:        alloc.CPUsPerNode,
			GPUs:        alloc.GPUsPerNode,
		})
		if err != nil {
			if b.cfg.Strict {
				return nil, b.abort(err)
			}
			log.Printf("[Warning] %v", err)
			continue
		}
		b.started = append(b.started, node)
		info.Workers = append(info.Workers, node)
	}

	log.Printf("Cluster ready: head %q plus %d worker(s)", headNode, len(info.Workers))
	return info, nil
}

// Teardown stops the cluster processes started by this Bootstrapper, most
// recently started first. Errors are collected, not short-circuited.
func (b *Bootstrapper) Teardown() error {
	var errs *multierror.Error
	for i := len(b.started) - 1; i >= 0; i-- {
		if err := b.launcher.Stop(b.started[i]); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	b.started = nil
	return errs.ErrorOrNil()
}

func (b *Bootstrapper) abort(cause error) error {
	if b.cfg.NoTeardown {
		return cause
	}
	if err := b.Teardown(); err != nil {
		log.Printf("[Warning] teardown after bootstrap failure: %v", err)
	}
	return cause
}

func (b *Bootstrapper) resolveNodes() (*slurm.Allocation, error) {
	if len(b.cfg.Nodes) > 0 {
		alloc := &slurm.Allocation{
			Nodes:       b.cfg.Nodes,
			CPUsPerNode: b.cfg.CPUsPerNode,
			GPUsPerNode: b.cfg.GPUsPerNode,
		}
		// An explicit node list still takes its resource counts from the
		// scheduler environment when no override is given
		if alloc.CPUsPerNode <= 0 {
			alloc.CPUsPerNode = slurm.LookupCPUsPerNode()
		}
		if alloc.GPUsPerNode <= 0 {
			alloc.GPUsPerNode = slurm.LookupGPUsPerNode()
		}
		return alloc, nil
	}
	alloc, err := slurm.LookupAllocation(b.client)
	if err != nil {
		return nil, err
	}
	if b.cfg.CPUsPerNode > 0 {
		alloc.CPUsPerNode = b.cfg.CPUsPerNode
	}
	if b.cfg.GPUsPerNode > 0 {
		alloc.GPUsPerNode = b.cfg.GPUsPerNode
	}
	return alloc, nil
}

func (b *Bootstrapper) checkLauncherVersion() error {
	min, err := semver.ParseTolerant(b.cfg.MinLauncherVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid minimum launcher version %q", b.cfg.MinLauncherVersion)
	}
	v, err := b.launcher.Version()
	if err != nil {
		return err
	}
	if v.LT(min) {
		return errors.Errorf("launcher version %s is older than the minimum supported %s", v, min)
	}
	log.Debugf("Launcher version %s accepted", v)
	return nil
}

// resolveHeadAddress prefers a structured address-family aware resolution
// and falls back to asking the head node itself when the local resolver has
// no answer or when running in remote mode
func (b *Bootstrapper) resolveHeadAddress(ctx context.Context, headNode string) (string, error) {
	if !b.cfg.IsRemote() {
		ip, err := ResolveHeadIP(ctx, nil, headNode)
		if err == nil {
			return ip.String(), nil
		}
		log.Debugf("Local resolution of %q failed (%v), asking the node itself", headNode, err)
	}
	return resolveHeadIPOnNode(b.client, headNode)
}

// waitForHead blocks until the head accepts connections. With a zero
// readiness timeout probing is disabled and the fixed settle delay applies
// instead.
func (b *Bootstrapper) waitForHead(ctx context.Context, address string) error {
	if b.cfg.ReadinessTimeout <= 0 {
		log.Printf("Head readiness probing disabled, waiting the %s settle delay", b.cfg.SettleDelay)
		return b.sleep(ctx, b.cfg.SettleDelay)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReadinessTimeout)
	defer cancel()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		if err := b.probe(address); err == nil {
			log.Printf("Head %q is accepting connections", address)
			return nil
		} else {
			log.Debugf("Head %q not ready yet: %v", address, err)
		}
		select {
		case <-ctx.Done():
			err := errors.Wrapf(ctx.Err(), "head %q did not become ready within %s", address, b.cfg.ReadinessTimeout)
			if !b.cfg.Strict {
				log.Printf("[Warning] %v, continuing anyway", err)
				return nil
			}
			return err
		case <-ticker.C:
		}
	}
}

func localProbe(address string) error {
	conn, err := net.DialTimeout("tcp", address, probeDialTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// remoteProbe checks the head port from the SLURM frontend, where the
// compute network is reachable
func (b *Bootstrapper) remoteProbe(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("timeout %d bash -c '</dev/tcp/%s/%s'", int(probeDialTimeout.Seconds()), host, port)
	_, err = b.client.RunCommand(cmd)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
