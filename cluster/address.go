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

package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hpcforge/raysub/log"
	"github.com/hpcforge/raysub/slurm"
)

// maxIPv4Len is the length threshold above which a resolved address
// candidate is assumed to be IPv6 ("255.255.255.255" is 15 characters,
// "host:port" with a 5 digit port can reach 16)
const maxIPv4Len = 16

// PickUsableAddress applies the dual-stack disambiguation policy on a raw
// hostname resolution output.
//
// A string without space is returned unchanged. When the output contains a
// space it is assumed to hold an IPv6 and an IPv4 candidate: if the first
// candidate is longer than 16 characters it is treated as the IPv6 one and
// the second candidate is selected, otherwise the first one is.
func PickUsableAddress(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, " ") {
		return trimmed
	}
	candidates := strings.Fields(trimmed)
	log.Printf("Both IPv6 and IPv4 addresses detected in %q", trimmed)
	if len(candidates[0]) > maxIPv4Len {
		return candidates[1]
	}
	return candidates[0]
}

// ResolveHeadIP resolves the head node hostname into a usable IP address.
//
// The DNS answer is inspected with its address family rather than with
// string heuristics: the first IPv4 address wins, the first IPv6 one is
// used when no IPv4 is available.
func ResolveHeadIP(ctx context.Context, resolver *net.Resolver, host string) (net.IP, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve the head node %q", host)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("the head node %q resolved to no address", host)
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return addrs[0].IP, nil
}

// resolveHeadIPOnNode asks the head node itself for its IP address through
// an srun step. This is the fallback when the local resolver has no view on
// the compute network (remote mode notably). The answer goes through the
// legacy dual-stack policy.
func resolveHeadIPOnNode(client slurm.Client, node string) (string, error) {
	cmd := fmt.Sprintf("srun --nodes=1 --ntasks=1 -w %s hostname --ip-address", node)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve the head node %q address on the node itself", node)
	}
	addr := PickUsableAddress(output)
	if addr == "" {
		return "", errors.Errorf("the head node %q reported no address", node)
	}
	if net.ParseIP(addr) == nil {
		// Best effort: keep the answer but leave a trace, downstream
		// connection attempts will tell
		log.Printf("Address %q reported by the head node %q is not a parseable IP", addr, node)
	}
	return addr, nil
}

// JoinHostPort formats the head address advertised to workers and to the
// workload
func JoinHostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
