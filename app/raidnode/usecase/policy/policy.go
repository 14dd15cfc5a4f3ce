package policy

import (
	"fmt"
	"time"

	"github.com/chanyoung/raidfs/pkg/stripe"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned when a policy cannot be resolved:
// its parent chain has a cycle or a required property stays unset.
// The broken policy is skipped; other policies are unaffected.
var ErrConfiguration = errors.New("policy: unresolved or cyclic policy configuration")

// Info is one policy definition as loaded from the policy file.
// Zero values mean unset and are filled from the parent chain.
// A policy without a source selector is abstract: it only donates
// properties and is never evaluated itself.
type Info struct {
	Name              string `json:"name"`
	Parent            string `json:"parentPolicy,omitempty"`
	SrcPrefix         string `json:"srcPath,omitempty"`
	FileListPath      string `json:"fileList,omitempty"`
	Code              string `json:"erasureCode,omitempty"`
	SrcReplication    int    `json:"srcReplication,omitempty"`
	TargetReplication int    `json:"targetReplication,omitempty"`
	MetaReplication   int    `json:"metaReplication,omitempty"`
	StripeLength      int    `json:"stripeLength,omitempty"`
	ParityLength      int    `json:"parityLength,omitempty"`
	// ModTimePeriod is a duration string, e.g. "2s".
	ModTimePeriod string `json:"modTimePeriod,omitempty"`
	// MaxParityPerNode caps the parity blocks of one stripe a single
	// node may host. Defaults to the resolved parity length.
	MaxParityPerNode int `json:"maxParityPerNode,omitempty"`
}

func (i Info) hasSelector() bool {
	return i.SrcPrefix != "" || i.FileListPath != ""
}

// Effective is a fully resolved policy, flattened before any
// selection logic runs.
type Effective struct {
	Name              string
	SrcPrefix         string
	FileListPath      string
	Code              stripe.Kind
	SrcReplication    int
	TargetReplication int
	MetaReplication   int
	StripeLength      int
	ParityLength      int
	ModTimePeriod     time.Duration
	MaxParityPerNode  int
	// ParityLocation is the parity root for this policy's code kind.
	ParityLocation string
}

// Defaults carry the node-wide fallbacks applied during resolution.
type Defaults struct {
	// RSParityLength is the parity length of rs policies which do
	// not set one themselves.
	RSParityLength int
	// ParityLocation is the parity root path for xor policies.
	ParityLocation string
	// ParityLocationRS is the parity root path for rs policies.
	ParityLocationRS string
}

// Resolve flattens every concrete policy against its parent chain.
// It is idempotent and independent of definition order. A cycle or a
// property left unset after full resolution fails that policy with
// ErrConfiguration; resolution of the other policies continues and
// the first error is returned alongside the successful ones.
func Resolve(infos []Info, defaults Defaults) (map[string]*Effective, error) {
	byName := make(map[string]Info, len(infos))
	for _, in := range infos {
		if in.Name == "" {
			return nil, errors.Wrap(ErrConfiguration, "policy without a name")
		}
		if _, ok := byName[in.Name]; ok {
			return nil, errors.Wrapf(ErrConfiguration, "duplicate policy %q", in.Name)
		}
		byName[in.Name] = in
	}

	resolved := make(map[string]*Effective)
	var firstErr error
	for _, in := range infos {
		if !in.hasSelector() {
			continue
		}
		eff, err := resolveOne(in, byName, defaults)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resolved[in.Name] = eff
	}
	return resolved, firstErr
}

func resolveOne(in Info, byName map[string]Info, defaults Defaults) (*Effective, error) {
	flat := in
	seen := map[string]bool{in.Name: true}

	for cur := in; cur.Parent != ""; {
		parent, ok := byName[cur.Parent]
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "policy %q: unknown parent %q", in.Name, cur.Parent)
		}
		if seen[parent.Name] {
			return nil, errors.Wrapf(ErrConfiguration, "policy %q: inheritance cycle through %q", in.Name, parent.Name)
		}
		seen[parent.Name] = true

		// Nearest ancestor wins: only fill what is still unset.
		if flat.Code == "" {
			flat.Code = parent.Code
		}
		if flat.SrcReplication == 0 {
			flat.SrcReplication = parent.SrcReplication
		}
		if flat.TargetReplication == 0 {
			flat.TargetReplication = parent.TargetReplication
		}
		if flat.MetaReplication == 0 {
			flat.MetaReplication = parent.MetaReplication
		}
		if flat.StripeLength == 0 {
			flat.StripeLength = parent.StripeLength
		}
		if flat.ParityLength == 0 {
			flat.ParityLength = parent.ParityLength
		}
		if flat.ModTimePeriod == "" {
			flat.ModTimePeriod = parent.ModTimePeriod
		}
		if flat.MaxParityPerNode == 0 {
			flat.MaxParityPerNode = parent.MaxParityPerNode
		}
		cur = parent
	}

	return concrete(flat, defaults)
}

// concrete validates a flattened policy and applies node defaults.
func concrete(flat Info, defaults Defaults) (*Effective, error) {
	if flat.SrcPrefix != "" && flat.FileListPath != "" {
		return nil, errors.Wrapf(ErrConfiguration, "policy %q: both srcPath and fileList set", flat.Name)
	}
	if flat.Code == "" {
		flat.Code = stripe.XOR.String()
	}
	kind, err := stripe.ParseKind(flat.Code)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "policy %q: %v", flat.Name, err)
	}

	parityLength := 1
	location := defaults.ParityLocation
	if kind == stripe.ReedSolomon {
		parityLength = flat.ParityLength
		if parityLength == 0 {
			parityLength = defaults.RSParityLength
		}
		if parityLength < 2 {
			return nil, errors.Wrapf(ErrConfiguration, "policy %q: rs parity length %d not resolved", flat.Name, parityLength)
		}
		location = defaults.ParityLocationRS
	}

	if flat.ModTimePeriod == "" {
		return nil, errors.Wrapf(ErrConfiguration, "policy %q: modTimePeriod not resolved", flat.Name)
	}
	period, err := time.ParseDuration(flat.ModTimePeriod)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "policy %q: bad modTimePeriod: %v", flat.Name, err)
	}

	for prop, v := range map[string]int{
		"srcReplication":    flat.SrcReplication,
		"targetReplication": flat.TargetReplication,
		"metaReplication":   flat.MetaReplication,
		"stripeLength":      flat.StripeLength,
	} {
		if v < 1 {
			return nil, errors.Wrapf(ErrConfiguration, "policy %q: %s not resolved", flat.Name, prop)
		}
	}

	maxParity := flat.MaxParityPerNode
	if maxParity == 0 {
		maxParity = parityLength
	}

	return &Effective{
		Name:              flat.Name,
		SrcPrefix:         flat.SrcPrefix,
		FileListPath:      flat.FileListPath,
		Code:              kind,
		SrcReplication:    flat.SrcReplication,
		TargetReplication: flat.TargetReplication,
		MetaReplication:   flat.MetaReplication,
		StripeLength:      flat.StripeLength,
		ParityLength:      parityLength,
		ModTimePeriod:     period,
		MaxParityPerNode:  maxParity,
		ParityLocation:    location,
	}, nil
}

// ParityPath derives the parity file path of a source file under this
// policy.
func (p *Effective) ParityPath(srcPath string) string {
	return stripe.ParityPath(p.ParityLocation, srcPath)
}

func (p *Effective) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, p.Code)
}
