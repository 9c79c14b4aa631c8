package lineage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidName reports whether name can be used for a derived object or branch.
func ValidName(name string) bool {
	return validate.Var(name, "required,identifier") == nil
}

// checkRequest runs the struct tags of req and maps the first failure onto
// the error taxonomy.
func checkRequest(op string, req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return branch.Invalid(op, "", err)
	}
	fe := verrs[0]
	switch sf := fe.StructField(); {
	case sf == "Name" || sf == "ObjectName" || sf == "BranchName":
		return branch.Invalid(op, fe.Field(), fmt.Errorf("%q: %w", fe.Value(), branch.ErrInvalidName))
	case strings.HasPrefix(sf, "Param"):
		return branch.Invalid(op, fe.Field(), fmt.Errorf("%q: %w", fe.Value(), branch.ErrUnknownParameter))
	default:
		return branch.Invalid(op, fe.Field(), fmt.Errorf("%v fails %s: %w", fe.Value(), fe.Tag(), branch.ErrSourceMismatch))
	}
}

// checkBranchNames fails when any of names is already a branch of object.
func (r *Resolver) checkBranchNames(ctx context.Context, op, system, object string, names ...string) error {
	existing, err := r.store.ListBranches(ctx, system, object)
	if err != nil {
		return err
	}
	for _, name := range names {
		if slices.Contains(existing, name) {
			return branch.Invalid(op, "name", fmt.Errorf("branch %q under %q: %w", name, object, branch.ErrNameCollision))
		}
	}
	return nil
}

func (r *Resolver) checkObjectName(ctx context.Context, op, system, name string) error {
	existing, err := r.store.ListObjects(ctx, system)
	if err != nil {
		return err
	}
	if slices.Contains(existing, name) {
		return branch.Invalid(op, "object", fmt.Errorf("object %q: %w", name, branch.ErrNameCollision))
	}
	// Branches saved under a name with no object record still own it.
	orphans, err := r.store.ListBranches(ctx, system, name)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		return branch.Invalid(op, "object", fmt.Errorf("object %q holds %d branches: %w", name, len(orphans), branch.ErrNameCollision))
	}
	return nil
}

func requireFlow(op string, sys branch.System) error {
	if sys.Type != branch.Flow {
		return branch.Invalid(op, "system", fmt.Errorf("%s system: %w", sys.Type, branch.ErrWrongSystemKind))
	}
	return nil
}

func requireMap(op string, sys branch.System) error {
	if sys.Type != branch.Map {
		return branch.Invalid(op, "system", fmt.Errorf("%s system: %w", sys.Type, branch.ErrWrongSystemKind))
	}
	return nil
}

func requireParam(op, field string, sys branch.System, name string) (int, error) {
	i := sys.ParamIndex(name)
	if i < 0 {
		return -1, branch.Invalid(op, field, fmt.Errorf("%q: %w", name, branch.ErrUnknownParameter))
	}
	return i, nil
}

// requireAction fails when p on src does not offer a. Object sources are
// checked against the family their solution seeds.
func requireAction(op string, sys branch.System, src Source, p branch.Point, a classify.Action) error {
	if classify.Offers(p, classify.FamilyOf(src.Kind()), sys.Type, a) {
		return nil
	}
	return branch.Invalid(op, "point", fmt.Errorf("%s at %s point of %s: %w", a, p.Stability, src.Kind(), branch.ErrNotEligible))
}
