package cli

import (
	"crypto"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// ParsePCRSelection parses bank:indices selection syntax, for example
// "sha256:0,1,7" or "sha256:all". Duplicate indices collapse and the
// result is sorted.
func ParsePCRSelection(s string) (wire.PCRSelection, error) {
	bank, list, ok := strings.Cut(s, ":")
	if !ok || list == "" {
		return wire.PCRSelection{}, fmt.Errorf("selection %q: want bank:indices", s)
	}
	alg, err := wire.AlgorithmFromName(bank)
	if err != nil {
		return wire.PCRSelection{}, fmt.Errorf("selection %q: %v", s, err)
	}
	sel := wire.PCRSelection{Alg: alg}
	if list == "all" {
		for i := 0; i < wire.NumPCRs; i++ {
			sel.PCRs = append(sel.PCRs, i)
		}
		return sel, nil
	}
	seen := make(map[int]bool)
	for _, d := range strings.Split(list, ",") {
		pcr, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return wire.PCRSelection{}, fmt.Errorf("selection %q: %v", s, err)
		}
		if pcr < 0 || pcr >= wire.NumPCRs {
			return wire.PCRSelection{}, fmt.Errorf("selection %q: PCR %d out of range", s, pcr)
		}
		if seen[pcr] {
			continue
		}
		seen[pcr] = true
		sel.PCRs = append(sel.PCRs, pcr)
	}
	sort.Ints(sel.PCRs)
	if err := sel.Validate(); err != nil {
		return wire.PCRSelection{}, fmt.Errorf("selection %q: %v", s, err)
	}
	return sel, nil
}

// ParseHashAlgorithm resolves a hash name to its TPM algorithm and
// crypto.Hash. The empty name means no override.
func ParseHashAlgorithm(name string) (tpm2.Algorithm, crypto.Hash, error) {
	if name == "" {
		return tpm2.AlgNull, 0, nil
	}
	alg, err := wire.AlgorithmFromName(name)
	if err != nil {
		return tpm2.AlgNull, 0, err
	}
	h, err := alg.Hash()
	if err != nil {
		return tpm2.AlgNull, 0, err
	}
	return alg, h, nil
}

// ParseLogRequest parses id[:offset[,count]] into a log request. The
// offset defaults to 1 (the whole log); see wire.LogRequest for the
// offset and count semantics.
func ParseLogRequest(s string) (wire.LogRequest, error) {
	id, rest, has := strings.Cut(s, ":")
	if id != wire.LogIMA && id != wire.LogTCGBoot {
		return wire.LogRequest{}, fmt.Errorf("log %q: known logs are %s and %s", id, wire.LogIMA, wire.LogTCGBoot)
	}
	lr := wire.LogRequest{ID: id, Offset: 1}
	if !has || rest == "" {
		return lr, nil
	}
	parts := strings.Split(rest, ",")
	if len(parts) > 2 {
		return wire.LogRequest{}, fmt.Errorf("log %q: want id[:offset[,count]]", s)
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return wire.LogRequest{}, fmt.Errorf("log %q: offset: %v", s, err)
	}
	lr.Offset = offset
	if len(parts) == 2 {
		count, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return wire.LogRequest{}, fmt.Errorf("log %q: count: %v", s, err)
		}
		lr.Count = count
	}
	return lr, nil
}

// ParseKeyHandle parses a hex persistent handle like 0x81000001. The
// empty string means no persistent key.
func ParseKeyHandle(s string) (tpmutil.Handle, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("key handle %q: %v", s, err)
	}
	return tpmutil.Handle(v), nil
}
