package symbols

import "fmt"

// Kind tags the variant a Symbol represents.
type Kind int

const (
	KindRoot Kind = iota
	KindNamespace
	KindDiskDir
	KindPythonPackage
	KindModule
	KindFile
	KindCompiled
	KindClass
	KindFunction
	KindVariable
)

var kindNames = [...]string{
	KindRoot:          "root",
	KindNamespace:     "namespace",
	KindDiskDir:       "disk_dir",
	KindPythonPackage: "python_package",
	KindModule:        "module",
	KindFile:          "file",
	KindCompiled:      "compiled",
	KindClass:         "class",
	KindFunction:      "function",
	KindVariable:      "variable",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsPackage reports whether k is a python package or an Odoo module.
func (k Kind) IsPackage() bool { return k == KindPythonPackage || k == KindModule }

// HoldsSource reports whether k is backed by a python source file.
func (k Kind) HoldsSource() bool { return k == KindFile || k.IsPackage() }

// OnDisk reports whether k represents an on-disk entity.
func (k Kind) OnDisk() bool { return k <= KindCompiled }

// IsDecl reports whether k is an in-file declaration.
func (k Kind) IsDecl() bool { return k >= KindClass }

// BuildStep is one ordered level of analysis completeness.
type BuildStep int

const (
	StepSyntax BuildStep = iota - 1
	StepArch
	StepArchEval
	StepOdoo
	StepValidation
)

// Steps lists the stages that carry a build status, in order.
var Steps = [...]BuildStep{StepArch, StepArchEval, StepOdoo, StepValidation}

func (s BuildStep) String() string {
	switch s {
	case StepSyntax:
		return "syntax"
	case StepArch:
		return "arch"
	case StepArchEval:
		return "arch_eval"
	case StepOdoo:
		return "odoo"
	case StepValidation:
		return "validation"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s carries a build status.
func (s BuildStep) Valid() bool { return s >= StepArch && s <= StepValidation }

// BuildStatus is the progress of one symbol at one stage.
type BuildStatus int

const (
	StatusPending BuildStatus = iota
	StatusInProgress
	StatusDone
)

func (s BuildStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	}
	return fmt.Sprintf("status(%d)", int(s))
}
