// Package refpcr loads operator-trusted PCR reference values and answers
// whether a quoted composite digest matches any acceptable golden state.
package refpcr

import (
	"crypto"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/go-tpm/legacy/tpm2"
	"gopkg.in/yaml.v3"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// ErrConfig marks bad or missing operator-supplied reference input.
var ErrConfig = errors.New("reference configuration")

// Store holds the reference values for one PCR bank. It is immutable after
// Load and safe for concurrent readers; lifetime is the process.
//
// Each register lists its acceptable values in snapshot order (for example
// pre- and post-update). Registers that never change may list a single
// value; it pads shorter lists when snapshots are composed.
type Store struct {
	alg       tpm2.Algorithm
	hash      crypto.Hash
	values    map[int][][]byte
	snapshots int
}

type refFile struct {
	Bank string      `yaml:"bank"`
	PCRs []refRecord `yaml:"pcrs"`
}

type refRecord struct {
	Index   int      `yaml:"index"`
	Digests []string `yaml:"digests"`
}

// Load reads a YAML reference file. A missing or malformed file is a
// configuration error; no exchange should be attempted without references.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, path)
	}
	return s, nil
}

// Parse builds a Store from reference file contents.
func Parse(data []byte) (*Store, error) {
	var f refFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	alg, err := wire.AlgorithmFromName(f.Bank)
	if err != nil {
		return nil, fmt.Errorf("%w: bank: %w", ErrConfig, err)
	}
	hash, err := alg.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: bank %s: %w", ErrConfig, f.Bank, err)
	}
	if len(f.PCRs) == 0 {
		return nil, fmt.Errorf("%w: no PCR records", ErrConfig)
	}

	s := &Store{alg: alg, hash: hash, values: make(map[int][][]byte, len(f.PCRs))}
	for _, rec := range f.PCRs {
		if rec.Index < 0 || rec.Index >= wire.NumPCRs {
			return nil, fmt.Errorf("%w: PCR index %d out of range", ErrConfig, rec.Index)
		}
		if _, dup := s.values[rec.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate record for PCR %d", ErrConfig, rec.Index)
		}
		if len(rec.Digests) == 0 {
			return nil, fmt.Errorf("%w: PCR %d lists no digests", ErrConfig, rec.Index)
		}
		vals := make([][]byte, 0, len(rec.Digests))
		for _, d := range rec.Digests {
			v, err := parseHexDigest(d, hash.Size())
			if err != nil {
				return nil, fmt.Errorf("%w: PCR %d: %w", ErrConfig, rec.Index, err)
			}
			vals = append(vals, v)
		}
		s.values[rec.Index] = vals
		if len(vals) > s.snapshots {
			s.snapshots = len(vals)
		}
	}
	return s, nil
}

func parseHexDigest(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("digest %q: %w", s, err)
	}
	if len(v) != size {
		return nil, fmt.Errorf("digest is %d bytes, bank values are %d", len(v), size)
	}
	return v, nil
}

// Algorithm is the bank the references belong to.
func (s *Store) Algorithm() tpm2.Algorithm { return s.alg }

// Hash is the bank's digest algorithm.
func (s *Store) Hash() crypto.Hash { return s.hash }

// Snapshots is the number of golden configurations on file.
func (s *Store) Snapshots() int { return s.snapshots }

// Registers lists the register indices with references, ascending.
func (s *Store) Registers() []int {
	regs := make([]int, 0, len(s.values))
	for pcr := range s.values {
		regs = append(regs, pcr)
	}
	sort.Ints(regs)
	return regs
}

// CompositeDigests derives one composite digest per snapshot for the
// selected registers: snapshot j concatenates each register's j-th value
// (or its last, when the register has fewer) in ascending index order and
// hashes with h, mirroring how the device composes the quoted digest.
func (s *Store) CompositeDigests(sel wire.PCRSelection, h crypto.Hash) ([][]byte, error) {
	if sel.Alg != s.alg {
		return nil, fmt.Errorf("selection names bank %s, references hold %s",
			wire.AlgorithmName(sel.Alg), wire.AlgorithmName(s.alg))
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	out := make([][]byte, 0, s.snapshots)
	for snap := 0; snap < s.snapshots; snap++ {
		column := make(map[int][]byte, len(sel.PCRs))
		for _, pcr := range sel.PCRs {
			vals, ok := s.values[pcr]
			if !ok {
				return nil, fmt.Errorf("no reference value for PCR %d", pcr)
			}
			i := snap
			if i >= len(vals) {
				i = len(vals) - 1
			}
			column[pcr] = vals[i]
		}
		digest, err := wire.CompositeDigest(h, sel, column)
		if err != nil {
			return nil, err
		}
		out = append(out, digest)
	}
	return out, nil
}

// Matches reports whether digest equals any snapshot's composite for the
// selection. Comparison is constant-time per candidate.
func (s *Store) Matches(sel wire.PCRSelection, h crypto.Hash, digest []byte) (bool, error) {
	candidates, err := s.CompositeDigests(sel, h)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if subtle.ConstantTimeCompare(c, digest) == 1 {
			return true, nil
		}
	}
	return false, nil
}
