package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/solver"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/telemetry"
)

var lorenz = branch.System{
	Name:       "lorenz",
	Type:       branch.Flow,
	ParamNames: []string{"rho", "sigma", "beta"},
	Params:     []float64{28, 10, 2.667},
	Equations:  []string{"sigma*(y-x)", "x*(rho-z)-y", "x*y-beta*z"},
	VarNames:   []string{"x", "y", "z"},
}

var henon = branch.System{
	Name:       "henon",
	Type:       branch.Map,
	ParamNames: []string{"a", "b"},
	Params:     []float64{1.4, 0.3},
	Equations:  []string{"1-a*x^2+y", "b*x"},
	VarNames:   []string{"x", "y"},
}

func point(state []float64, param float64, st branch.Stability, eig ...branch.Complex) branch.Point {
	return branch.Point{State: state, ParamValue: param, Stability: st, Eigenvalues: eig}
}

func seedStore(ctx context.Context, store storage.Store) {
	Expect(store.Commit(ctx, lorenz.Name, storage.Changeset{
		Objects: []*branch.Object{
			{Name: "eq1", SystemName: "lorenz", Kind: branch.ObjectEquilibrium, Params: []float64{28, 10, 2.667},
				ParameterName: "rho", Solution: &branch.Solution{State: []float64{0, 0, 0}}},
			{Name: "lc1", SystemName: "lorenz", Kind: branch.ObjectLimitCycle, Params: []float64{24, 10, 2.667},
				ParameterName: "rho", NTST: 2, NCOL: 1},
			{Name: "orbit1", SystemName: "lorenz", Kind: branch.ObjectOrbit, Params: []float64{30, 10, 2.667},
				Orbit: &branch.Orbit{Times: []float64{0, 0.1, 0.2}, States: [][]float64{{1, 1, 1}, {2, 2, 2}, {1, 1, 1}}}},
		},
		Branches: []*branch.Branch{
			{
				Name: "eq1_rho", SystemName: "lorenz", ParameterName: "rho", ParentObject: "eq1", StartObject: "eq1",
				Params: []float64{20, 10, 2.667},
				Data: branch.Data{
					Points: []branch.Point{
						point([]float64{1, 1, 1}, 20, branch.Stable, branch.Complex{Re: -1}),
						point([]float64{2, 2, 2}, 24.7, branch.Hopf,
							branch.Complex{Re: 1e-3, Im: 9.6}, branch.Complex{Re: 1e-3, Im: -9.6}, branch.Complex{Re: -13.6}),
						point([]float64{3, 3, 3}, 26, branch.Fold, branch.Complex{Re: 0}),
					},
					Indices:      []int{0, 1, 2},
					Bifurcations: []int{1, 2},
					BranchType:   branch.Equilibrium{},
				},
			},
			{
				Name: "lc_main", SystemName: "lorenz", ParameterName: "rho", ParentObject: "lc1", StartObject: "lc1",
				Data: branch.Data{
					Points: []branch.Point{
						point(make([]float64, branch.CycleStateLen(3, 2, 1)), 24.2, branch.PeriodDoubling),
					},
					BranchType: branch.LimitCycle{NTST: 2, NCOL: 1},
				},
			},
		},
	})).To(Succeed())

	Expect(store.Commit(ctx, henon.Name, storage.Changeset{
		Objects: []*branch.Object{{Name: "fp", SystemName: "henon", Kind: branch.ObjectEquilibrium, MapIterations: 3}},
		Branches: []*branch.Branch{{
			Name: "period3", SystemName: "henon", ParameterName: "a", ParentObject: "fp", StartObject: "fp",
			Params: []float64{1.0, 0.3}, MapIterations: 3,
			Data: branch.Data{
				Points: []branch.Point{
					point([]float64{0.5, 0.1}, 1.05, branch.PeriodDoubling, branch.Complex{Re: -1}, branch.Complex{Re: 0.2}),
				},
				BranchType: branch.Equilibrium{},
			},
		}},
	})).To(Succeed())
}

var _ = Describe("Resolver", func() {
	var (
		ctx   context.Context
		store *storage.MemStore
		fake  *scriptedSolver
		reg   *prometheus.Registry
		r     *Resolver
		clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewMemStore(telemetry.Discard())
		fake = newScriptedSolver()
		reg = prometheus.NewRegistry()
		r = New(store, fake,
			WithLogger(telemetry.Discard()),
			WithMetrics(telemetry.NewMetrics(reg)),
			WithClock(func() time.Time { return clock }))
		seedStore(ctx, store)
	})

	source := func(sys branch.System, object, name string, idx int) Source {
		src, err := r.Source(ctx, sys.Name, object, name, idx)
		Expect(err).NotTo(HaveOccurred())
		return src
	}

	Describe("name validation", func() {
		It("accepts branch_1", func() {
			res, err := r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), EquilibriumRequest{Name: "branch_1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Branches).To(HaveLen(1))

			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "branch_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.StartObject).To(Equal("eq1_rho"))
			Expect(b.Timestamp).To(BeTemporally("==", clock))
			Expect(b.BranchType).To(Equal(branch.KindEquilibrium))
		})

		DescribeTable("rejects bad names before calling the solver",
			func(name string, want error) {
				_, err := r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), EquilibriumRequest{Name: name})
				Expect(err).To(MatchError(want))
				Expect(branch.IsValidation(err)).To(BeTrue())
				Expect(fake.Calls()).To(BeEmpty())
			},
			Entry("space", "branch 1", branch.ErrInvalidName),
			Entry("empty", "", branch.ErrInvalidName),
			Entry("slash", "a/b", branch.ErrInvalidName),
			Entry("duplicate", "eq1_rho", branch.ErrNameCollision),
		)

		It("checks object names globally", func() {
			_, err := r.DeriveLimitCycleFromHopf(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				HopfCycleRequest{ObjectName: "orbit1", BranchName: "lc"})
			Expect(err).To(MatchError(branch.ErrNameCollision))
			Expect(fake.Calls()).To(BeEmpty())
		})

		It("treats a name holding only branches as taken", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "orphan", &branch.Branch{
				Name: "stray", ParameterName: "rho",
				Data: branch.Data{Points: []branch.Point{point([]float64{0, 0, 0}, 1, branch.Stable)}},
			})).To(Succeed())
			objects, err := store.ListObjects(ctx, "lorenz")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).NotTo(ContainElement("orphan"))

			_, err = r.DeriveLimitCycleFromHopf(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				HopfCycleRequest{ObjectName: "orphan", BranchName: "lc"})
			Expect(err).To(MatchError(branch.ErrNameCollision))
			Expect(fake.Calls()).To(BeEmpty())
		})

		It("scopes branch names to their object", func() {
			_, err := r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), EquilibriumRequest{Name: "lc_main"})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("parameter resolution", func() {
		It("overrides the continuation parameter with the selected point", func() {
			_, err := r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				EquilibriumRequest{Name: "sigma_branch", ParameterName: "sigma"})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last["equilibrium"].(solver.EquilibriumRequest)
			Expect(req.Problem.Params).To(Equal([]float64{24.7, 10, 2.667}))
			Expect(req.Problem.ParamName).To(Equal("sigma"))
			Expect(req.State).To(Equal([]float64{2, 2, 2}))
		})

		It("walks startObject to a sibling branch", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{
				Name: "child", ParameterName: "rho", StartObject: "eq1_rho",
				Data: branch.Data{Points: []branch.Point{point([]float64{0, 0, 0}, 1, branch.Stable)}},
			})).To(Succeed())
			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "child")
			Expect(err).NotTo(HaveOccurred())

			params, err := r.ResolveParams(ctx, lorenz, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(Equal([]float64{20, 10, 2.667}))
		})

		It("walks startObject to an object", func() {
			b := &branch.Branch{Name: "x", ParentObject: "elsewhere", StartObject: "lc1", Params: []float64{1}}
			params, err := r.ResolveParams(ctx, lorenz, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(Equal([]float64{24, 10, 2.667}))
		})

		It("falls back to the live system params", func() {
			b := &branch.Branch{Name: "x", ParentObject: "eq1", StartObject: "missing"}
			params, err := r.ResolveParams(ctx, lorenz, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(Equal(lorenz.Params))
		})

		It("reports a cyclic lineage", func() {
			Expect(store.Commit(ctx, "lorenz", storage.Changeset{Branches: []*branch.Branch{
				{Name: "a", ParentObject: "loop", StartObject: "b",
					Data: branch.Data{Points: []branch.Point{point([]float64{0, 0, 0}, 1, branch.Stable)}}},
				{Name: "b", ParentObject: "loop", StartObject: "a",
					Data: branch.Data{Points: []branch.Point{point([]float64{0, 0, 0}, 1, branch.Stable)}}},
			}})).To(Succeed())
			a, err := store.LoadBranch(ctx, "lorenz", "loop", "a")
			Expect(err).NotTo(HaveOccurred())

			_, err = r.ResolveParams(ctx, lorenz, a)
			Expect(err).To(MatchError(branch.ErrLineageCycle))

			_, err = r.DeriveEquilibrium(ctx, lorenz, Source{Branch: a}, EquilibriumRequest{Name: "next"})
			Expect(err).To(MatchError(branch.ErrLineageCycle))
			Expect(branch.IsValidation(err)).To(BeTrue())
			Expect(fake.Calls()).To(BeEmpty())
		})

		It("bounds the walk depth", func() {
			shallow := New(store, fake, WithLogger(telemetry.Discard()), WithMaxDepth(1))
			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "eq1_rho")
			Expect(err).NotTo(HaveOccurred())
			b.Params = nil
			b.StartObject = "other"
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{Name: "other", StartObject: "eq1"})).To(Succeed())

			_, err = shallow.ResolveParams(ctx, lorenz, b)
			Expect(err).To(MatchError(branch.ErrLineageCycle))
		})
	})

	Describe("eligibility", func() {
		It("refuses actions the point does not offer", func() {
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				CurveRequest{Kind: solver.CurveFold, Name: "fold1", Param2Name: "sigma"})
			Expect(err).To(MatchError(branch.ErrNotEligible))
			Expect(fake.Calls()).To(BeEmpty())
		})

		It("refuses hopf cycles on map systems", func() {
			_, err := r.DeriveLimitCycleFromHopf(ctx, henon, source(henon, "fp", "period3", 0),
				HopfCycleRequest{ObjectName: "c", BranchName: "c1"})
			Expect(err).To(MatchError(branch.ErrWrongSystemKind))
		})
	})

	Describe("limit cycles", func() {
		It("starts a new object from a hopf point", func() {
			res, err := r.DeriveLimitCycleFromHopf(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				HopfCycleRequest{ObjectName: "lc_hopf", BranchName: "lc_hopf_rho"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Objects).To(HaveLen(1))
			Expect(fake.Calls()).To(Equal([]string{"hopf_setup", "limit_cycle"}))

			setup := fake.last["hopf_setup"].(solver.HopfSetupRequest)
			Expect(setup.Frequency).To(BeNumerically("~", 9.6, 1e-12))
			Expect(setup.Amplitude).To(Equal(defaultAmplitude))
			Expect(setup.NTST).To(Equal(20))

			obj, err := store.LoadObject(ctx, "lorenz", "lc_hopf")
			Expect(err).NotTo(HaveOccurred())
			Expect(obj.Kind).To(Equal(branch.ObjectLimitCycle))
			Expect(obj.Params).To(Equal([]float64{24.5, 10, 2.667}))
			Expect(obj.StartObject).To(Equal("eq1_rho"))

			b, err := store.LoadBranch(ctx, "lorenz", "lc_hopf", "lc_hopf_rho")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Data.BranchType).To(Equal(branch.LimitCycle{NTST: 20, NCOL: 4}))
			Expect(b.StartParent).To(Equal("eq1"))
		})

		It("keeps the source parameter when the setup omits it", func() {
			fake.setup = &solver.CycleSetup{State: []float64{1, 2, 3}, NTST: 20, NCOL: 4, Period: 0.6}
			_, err := r.DeriveLimitCycleFromHopf(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				HopfCycleRequest{ObjectName: "lc_hopf", BranchName: "lc_hopf_rho"})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last["limit_cycle"].(solver.LimitCycleRequest)
			Expect(req.Problem.Params).To(Equal([]float64{24.7, 10, 2.667}))
			Expect(req.Setup.ParamValue).NotTo(BeNil())
			Expect(*req.Setup.ParamValue).To(Equal(24.7))

			obj, err := store.LoadObject(ctx, "lorenz", "lc_hopf")
			Expect(err).NotTo(HaveOccurred())
			Expect(obj.Params).To(Equal([]float64{24.7, 10, 2.667}))
		})

		It("checks the cycle state against the mesh", func() {
			b, err := store.LoadBranch(ctx, "lorenz", "lc1", "lc_main")
			Expect(err).NotTo(HaveOccurred())
			b.Data.Points[0].State = []float64{1, 2}
			_, err = r.DeriveLimitCycle(ctx, lorenz, Source{Branch: b, Index: 0}, LimitCycleRequest{Name: "lc2"})
			Expect(err).To(MatchError(branch.ErrSourceMismatch))
		})

		It("continues an existing cycle", func() {
			_, err := r.DeriveLimitCycle(ctx, lorenz, source(lorenz, "lc1", "lc_main", 0), LimitCycleRequest{Name: "lc2"})
			Expect(err).NotTo(HaveOccurred())
			req := fake.last["limit_cycle"].(solver.LimitCycleRequest)
			Expect(req.Setup.NTST).To(Equal(2))
			Expect(req.Problem.Params).To(Equal([]float64{24.2, 10, 2.667}))
		})

		It("starts a cycle from an orbit object", func() {
			src, err := r.Source(ctx, "lorenz", "orbit1", "", 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = r.DeriveLimitCycleFromOrbit(ctx, lorenz, src, OrbitCycleRequest{ObjectName: "lc_orbit", BranchName: "b", ParameterName: "rho"})
			Expect(err).NotTo(HaveOccurred())
			req := fake.last["orbit_setup"].(solver.OrbitSetupRequest)
			Expect(req.ParamValue).To(Equal(30.0))
			Expect(req.Tolerance).To(Equal(defaultOrbitTolerance))
		})

		It("branches to the doubled cycle on a flow", func() {
			res, err := r.DerivePeriodDoubled(ctx, lorenz, source(lorenz, "lc1", "lc_main", 0),
				PeriodDoublingRequest{ObjectName: "lc_pd", BranchName: "lc_pd_rho"})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Calls()).To(Equal([]string{"pd_setup", "limit_cycle"}))
			Expect(res.Objects[0].Kind).To(Equal(branch.ObjectLimitCycle))
		})
	})

	Describe("period doubling on maps", func() {
		It("doubles the iteration count into a new object", func() {
			res, err := r.DerivePeriodDoubled(ctx, henon, source(henon, "fp", "period3", 0),
				PeriodDoublingRequest{ObjectName: "fp6", BranchName: "period6"})
			Expect(err).NotTo(HaveOccurred())

			Expect(fake.last["pd_setup"].(solver.PDSetupRequest).Problem.MapIterations).To(Equal(3))
			Expect(fake.last["equilibrium"].(solver.EquilibriumRequest).Problem.MapIterations).To(Equal(6))

			b, err := store.LoadBranch(ctx, "henon", "fp6", "period6")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.MapIterations).To(Equal(6))

			obj := res.Objects[0]
			Expect(obj.MapIterations).To(Equal(6))
			Expect(obj.Solution.State).To(Equal([]float64{0, 0, 0}))
			Expect(obj.Solution.ResidualNorm).To(BeZero())
			Expect(obj.Solution.Iterations).To(BeZero())
			Expect(obj.Solution.Eigenpairs).To(HaveLen(1))
			Expect(obj.Solution.Eigenpairs[0].Vector).To(BeEmpty())
		})

		It("fails when the solver returns no points", func() {
			fake.equilibrium = func(solver.EquilibriumRequest) (*solver.RawBranch, error) {
				return &solver.RawBranch{}, nil
			}
			_, err := r.DerivePeriodDoubled(ctx, henon, source(henon, "fp", "period3", 0),
				PeriodDoublingRequest{ObjectName: "fp6", BranchName: "period6"})
			Expect(branch.IsSolver(err)).To(BeTrue())
			_, err = store.LoadObject(ctx, "henon", "fp6")
			Expect(err).To(MatchError(branch.ErrNotFound))
		})
	})

	Describe("two-parameter curves", func() {
		It("names both parameters", func() {
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				CurveRequest{Kind: solver.CurveHopf, Name: "hopf1", Param2Name: "sigma"})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last["curve"].(solver.CurveRequest)
			Expect(req.Param2Value).To(Equal(10.0))
			Expect(req.Frequency).To(BeNumerically("~", 9.6, 1e-12))
			Expect(req.Problem.Param2Name).To(Equal("sigma"))

			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "hopf1")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.ParameterName).To(Equal("rho, sigma"))
			Expect(b.Data.BranchType).To(Equal(branch.HopfCurve{Param1Name: "rho", Param2Name: "sigma"}))
		})

		It("keeps the solver's tag", func() {
			fake.curve = func(solver.CurveRequest) (*solver.RawBranch, error) {
				return tagged(rawBranch(2, "None"), branch.FoldCurve{Param1Name: "R", Param2Name: "S"}), nil
			}
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 2),
				CurveRequest{Kind: solver.CurveFold, Name: "fold1", Param2Name: "beta"})
			Expect(err).NotTo(HaveOccurred())
			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "fold1")
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Data.BranchType).To(Equal(branch.FoldCurve{Param1Name: "R", Param2Name: "S"}))
		})

		It("carries the mesh for cycle curves", func() {
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "lc1", "lc_main", 0),
				CurveRequest{Kind: solver.CurvePD, Name: "pd1", Param2Name: "beta"})
			Expect(err).NotTo(HaveOccurred())
			req := fake.last["curve"].(solver.CurveRequest)
			Expect(req.NTST).To(Equal(2))
			Expect(req.NCOL).To(Equal(1))
		})

		It("rejects the same parameter twice", func() {
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 2),
				CurveRequest{Kind: solver.CurveFold, Name: "fold1", Param2Name: "rho"})
			Expect(err).To(MatchError(branch.ErrSourceMismatch))
		})

		It("rejects unknown parameters", func() {
			_, err := r.DeriveCurve(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 2),
				CurveRequest{Kind: solver.CurveFold, Name: "fold1", Param2Name: "gamma"})
			Expect(err).To(MatchError(branch.ErrUnknownParameter))
		})

		It("needs two parameters", func() {
			one := lorenz
			one.ParamNames = []string{"rho"}
			one.Params = []float64{28}
			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "eq1_rho")
			Expect(err).NotTo(HaveOccurred())
			_, err = r.DeriveCurve(ctx, one, Source{Branch: b, Index: 2},
				CurveRequest{Kind: solver.CurveFold, Name: "fold1", Param2Name: "sigma"})
			Expect(err).To(MatchError(branch.ErrInsufficientParams))
		})
	})

	Describe("1D manifolds", func() {
		It("splits Both into _plus and _minus", func() {
			res, err := r.DeriveManifold1D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), Manifold1DRequest{
				Name:     "m1",
				Settings: solver.Manifold1DSettings{Direction: branch.DirectionBoth},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Branches).To(HaveLen(2))
			Expect(res.Branches[0].Name).To(Equal("m1_plus"))
			Expect(res.Branches[1].Name).To(Equal("m1_minus"))

			names, err := store.ListBranches(ctx, "lorenz", "eq1")
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(ContainElements("m1_plus", "m1_minus"))

			t := res.Branches[1].Data.BranchType.(branch.ManifoldEq1D)
			Expect(t.Direction).To(Equal(branch.DirectionMinus))
			Expect(t.Method).To(Equal("shooting_bvp"))
		})

		It("uses the base name for a single direction", func() {
			res, err := r.DeriveManifold1D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), Manifold1DRequest{
				Name:     "m1",
				Settings: solver.Manifold1DSettings{Direction: branch.DirectionPlus},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Branches).To(HaveLen(1))
			Expect(res.Branches[0].Name).To(Equal("m1"))
		})

		It("matches branches by their direction tag first", func() {
			fake.manifold1D = func(solver.Manifold1DRequest) ([]solver.RawBranch, error) {
				minus := tagged(rawBranch(7, "None"), branch.ManifoldEq1D{Direction: branch.DirectionMinus, Method: "custom"})
				return []solver.RawBranch{*minus, *rawBranch(2, "None")}, nil
			}
			res, err := r.DeriveManifold1D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), Manifold1DRequest{Name: "m1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Branches[0].Name).To(Equal("m1_plus"))
			Expect(res.Branches[0].Data.Points).To(HaveLen(2))
			Expect(res.Branches[1].Name).To(Equal("m1_minus"))
			Expect(res.Branches[1].Data.Points).To(HaveLen(7))
			Expect(res.Branches[1].Data.BranchType.(branch.ManifoldEq1D).Method).To(Equal("custom"))
		})

		It("fails as a whole when one name collides", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{Name: "m1_minus"})).To(Succeed())
			_, err := r.DeriveManifold1D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), Manifold1DRequest{Name: "m1"})
			Expect(err).To(MatchError(branch.ErrNameCollision))
			Expect(fake.Calls()).To(BeEmpty())
			_, err = store.LoadBranch(ctx, "lorenz", "eq1", "m1_plus")
			Expect(err).To(MatchError(branch.ErrNotFound))
		})

		It("requires a flow", func() {
			_, err := r.DeriveManifold1D(ctx, henon, source(henon, "fp", "period3", 0), Manifold1DRequest{Name: "m1"})
			Expect(err).To(MatchError(branch.ErrWrongSystemKind))
		})
	})

	Describe("2D manifolds", func() {
		It("applies the default profile", func() {
			res, err := r.DeriveManifold2D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), Manifold2DRequest{Name: "surf"})
			Expect(err).NotTo(HaveOccurred())

			req := fake.last["manifold_2d"].(solver.Manifold2DRequest)
			want := solver.Manifold2DProfiles[solver.ProfileLocalPreview]
			Expect(req.Settings.RingPoints).To(Equal(want.RingPoints))
			Expect(req.Settings.LeafDelta).To(Equal(want.LeafDelta))
			Expect(req.Settings.Profile).To(Equal(solver.ProfileLocalPreview))

			t := res.Branches[0].Data.BranchType.(branch.ManifoldEq2D)
			Expect(t.Method).To(Equal("leaf_shooting_bvp"))
			Expect(t.Stability).To(Equal(branch.ManifoldUnstable))
		})

		It("requires three dimensions", func() {
			planar := lorenz
			planar.Equations = planar.Equations[:2]
			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "eq1_rho")
			Expect(err).NotTo(HaveOccurred())
			_, err = r.DeriveManifold2D(ctx, planar, Source{Branch: b}, Manifold2DRequest{Name: "surf"})
			Expect(err).To(MatchError(branch.ErrInsufficientDimension))
		})

		It("rejects unknown profiles", func() {
			_, err := r.DeriveManifold2D(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0),
				Manifold2DRequest{Name: "surf", Settings: solver.Manifold2DSettings{Profile: "nope"}})
			Expect(branch.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("homotopy saddle", func() {
		It("stores the final stage with both parameter names", func() {
			fake.homotopy = func(solver.HomotopyRequest) (*solver.RawBranch, error) {
				return tagged(rawBranch(3, "None"), branch.HomotopySaddleCurve{NTST: 40, NCOL: 4, Stage: branch.StageB}), nil
			}
			res, err := r.DeriveHomotopySaddle(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0),
				HomotopyRequest{Name: "homo", Param2Name: "sigma"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Branches[0].Data.BranchType).To(Equal(branch.HomotopySaddleCurve{
				NTST: 40, NCOL: 4, Param1Name: "rho", Param2Name: "sigma", Stage: branch.StageD,
			}))
			Expect(res.Branches[0].ParameterName).To(Equal("rho, sigma"))

			setup := fake.last["homotopy"].(solver.HomotopyRequest).Setup
			Expect(setup).To(Equal(solver.DefaultHomotopy().Clamp()))
		})
	})

	Describe("solver failures", func() {
		It("persist nothing", func() {
			fake.err = errors.New("singular jacobian")
			_, err := r.DeriveLimitCycleFromHopf(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 1),
				HopfCycleRequest{ObjectName: "lc_hopf", BranchName: "lc_hopf_rho"})
			Expect(branch.IsSolver(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("singular jacobian"))

			objects, err := store.ListObjects(ctx, "lorenz")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).NotTo(ContainElement("lc_hopf"))
			Expect(testutil.ToFloat64(r.metrics.Derivations.WithLabelValues(branch.KindLimitCycle, telemetry.OutcomeSolver))).To(Equal(1.0))
		})
	})

	Describe("extension", func() {
		BeforeEach(func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{
				Name: "legacy", ParameterName: "rho", StartObject: "eq1",
				Data: branch.Data{
					Points: []branch.Point{
						point([]float64{0, 0, 0}, 0, branch.Stable),
						point([]float64{1, 0, 0}, 1, branch.Fold),
						point([]float64{2, 0, 0}, 2, branch.Stable),
					},
					Bifurcations: []int{1},
				},
			})).To(Succeed())
		})

		extension := func(values ...float64) func(solver.ExtendRequest) (*solver.RawBranch, error) {
			return func(solver.ExtendRequest) (*solver.RawBranch, error) {
				raw := &solver.RawBranch{Bifurcations: []int{2}}
				for _, v := range values {
					raw.Points = append(raw.Points, solver.RawPoint{State: []float64{v, 0, 0}, ParamValue: v, Stability: "Stable"})
				}
				return raw, nil
			}
		}

		It("prepends backward points and keeps logical identity", func() {
			fake.extend = extension(0, -1, -2)
			b, err := r.Extend(ctx, lorenz, "eq1", "legacy", ExtendRequest{Forward: false})
			Expect(err).NotTo(HaveOccurred())

			Expect(fake.last["extend"].(solver.ExtendRequest).Endpoint).To(Equal(0))
			Expect(b.Data.Indices).To(Equal([]int{0, 1, 2, 3, 4}))
			params := make([]float64, len(b.Data.Points))
			for i, p := range b.Data.Points {
				params[i] = p.ParamValue
			}
			Expect(params).To(Equal([]float64{-2, -1, 0, 1, 2}))
			Expect(b.Data.Bifurcations).To(Equal([]int{0, 3}))

			stored, err := store.LoadBranch(ctx, "lorenz", "eq1", "legacy")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Data.Indices).To(Equal([]int{0, 1, 2, 3, 4}))
		})

		It("appends forward points after the maximum", func() {
			fake.extend = extension(2, 3, 4)
			b, err := r.Extend(ctx, lorenz, "eq1", "legacy", ExtendRequest{Forward: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.last["extend"].(solver.ExtendRequest).Endpoint).To(Equal(2))
			Expect(b.Data.Indices).To(Equal([]int{0, 1, 2, 3, 4}))
			Expect(b.Data.Points[4].ParamValue).To(Equal(4.0))
			Expect(b.Data.Bifurcations).To(Equal([]int{1, 4}))
		})

		It("sends eigenvalues in the wire shape", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{
				Name: "eig",
				Data: branch.Data{Points: []branch.Point{point([]float64{0, 0, 0}, 0, branch.Stable, branch.Complex{Re: -1, Im: 2})}},
			})).To(Succeed())
			_, err := r.Extend(ctx, lorenz, "eq1", "eig", ExtendRequest{Forward: true})
			Expect(err).NotTo(HaveOccurred())
			wire := fake.last["extend"].(solver.ExtendRequest).Branch
			Expect(wire.Points[0].Eigenvalues).To(Equal([]solver.EigenTuple{{-1, 2}}))
		})

		It("encodes placeholder eigenvalues for the engine", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{
				Name: "unhydrated",
				Data: branch.Data{Points: []branch.Point{
					point([]float64{0, 0, 0}, 0, branch.Stable, branch.Complex{Re: math.NaN(), Im: math.NaN()}),
				}},
			})).To(Succeed())
			var body []byte
			fake.extend = func(req solver.ExtendRequest) (*solver.RawBranch, error) {
				var err error
				body, err = json.Marshal(req)
				if err != nil {
					return nil, err
				}
				return rawBranch(2, "Stable"), nil
			}

			_, err := r.Extend(ctx, lorenz, "eq1", "unhydrated", ExtendRequest{Forward: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"eigenvalues":[["NaN","NaN"]]`))

			var echoed solver.ExtendRequest
			Expect(json.Unmarshal(body, &echoed)).To(Succeed())
			tuple := echoed.Branch.Points[0].Eigenvalues[0]
			Expect(math.IsNaN(tuple[0]) && math.IsNaN(tuple[1])).To(BeTrue())
		})
	})

	Describe("eigenvalue hydration", func() {
		It("fills missing and placeholder eigenvalues", func() {
			Expect(store.SaveBranch(ctx, "lorenz", "eq1", &branch.Branch{
				Name: "sparse", ParameterName: "rho",
				Data: branch.Data{Points: []branch.Point{
					point([]float64{0, 0, 0}, 21, branch.Stable, branch.Complex{Re: -1}),
					point([]float64{1, 0, 0}, 22, branch.Stable),
					point([]float64{2, 0, 0}, 23, branch.Stable, branch.Complex{Re: math.NaN(), Im: math.NaN()}),
				}},
			})).To(Succeed())

			n, err := r.HydrateEigenvalues(ctx, lorenz, "eq1", "sparse")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(fake.Calls()).To(HaveLen(2))
			Expect(fake.last["eigenvalues"].(solver.EigenRequest).Problem.Params[0]).To(Equal(23.0))

			b, err := store.LoadBranch(ctx, "lorenz", "eq1", "sparse")
			Expect(err).NotTo(HaveOccurred())
			for _, p := range b.Data.Points {
				Expect(p.NeedsEigenvalues()).To(BeFalse())
			}
			Expect(b.Data.Points[0].Eigenvalues).To(Equal([]branch.Complex{{Re: -1}}))
		})

		It("is a no-op on complete branches", func() {
			n, err := r.HydrateEigenvalues(ctx, lorenz, "eq1", "eq1_rho")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(fake.Calls()).To(BeEmpty())
		})
	})

	Describe("import", func() {
		It("stores an untagged branch as an equilibrium branch", func() {
			b, err := r.Import(ctx, lorenz, "eq1", ImportRequest{Name: "imported"}, rawBranch(4, "Stable"))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Data.BranchType).To(Equal(branch.Equilibrium{}))
			Expect(b.ParameterName).To(Equal("rho"))
			Expect(b.ParentObject).To(Equal("eq1"))
			Expect(b.StartObject).To(Equal("eq1"))
			Expect(b.Params).To(Equal([]float64{28, 10, 2.667}))
			Expect(fake.Calls()).To(BeEmpty())

			stored, err := store.LoadBranch(ctx, "lorenz", "eq1", "imported")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Data.Points).To(HaveLen(4))
			Expect(stored.Data.Indices).To(Equal([]int{0, 1, 2, 3}))
		})

		It("puts cycle objects on their mesh", func() {
			b, err := r.Import(ctx, lorenz, "lc1", ImportRequest{Name: "lc_imported", ParameterName: "sigma"}, rawBranch(2, "Stable"))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Data.BranchType).To(Equal(branch.LimitCycle{NTST: 2, NCOL: 1}))
			Expect(b.ParameterName).To(Equal("sigma"))
		})

		It("refuses taken names", func() {
			_, err := r.Import(ctx, lorenz, "eq1", ImportRequest{Name: "eq1_rho"}, rawBranch(2, "Stable"))
			Expect(err).To(MatchError(branch.ErrNameCollision))
		})

		It("refuses empty results", func() {
			_, err := r.Import(ctx, lorenz, "eq1", ImportRequest{Name: "empty"}, &solver.RawBranch{})
			Expect(err).To(MatchError(branch.ErrEmptyBranch))
			Expect(branch.IsValidation(err)).To(BeTrue())
		})

		It("refuses unknown parameters", func() {
			_, err := r.Import(ctx, lorenz, "eq1", ImportRequest{Name: "x1", ParameterName: "gamma"}, rawBranch(2, "Stable"))
			Expect(err).To(MatchError(branch.ErrUnknownParameter))
		})

		It("needs an existing object", func() {
			_, err := r.Import(ctx, lorenz, "ghost", ImportRequest{Name: "x1"}, rawBranch(2, "Stable"))
			Expect(err).To(MatchError(branch.ErrNotFound))
		})
	})

	Describe("metrics", func() {
		It("counts outcomes by kind", func() {
			_, err := r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), EquilibriumRequest{Name: "ok1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = r.DeriveEquilibrium(ctx, lorenz, source(lorenz, "eq1", "eq1_rho", 0), EquilibriumRequest{Name: "bad name"})
			Expect(err).To(HaveOccurred())

			m := r.metrics
			Expect(testutil.ToFloat64(m.Derivations.WithLabelValues(branch.KindEquilibrium, telemetry.OutcomeOK))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.Derivations.WithLabelValues(branch.KindEquilibrium, telemetry.OutcomeValidation))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.PointsPersisted.WithLabelValues(branch.KindEquilibrium))).To(Equal(3.0))
		})
	})
})

var _ = Describe("ParamNames", func() {
	DescribeTable("resolves continuation parameter names",
		func(b *branch.Branch, p1, p2 string, two bool) {
			g1, g2, gtwo := ParamNames(b)
			Expect([]any{g1, g2, gtwo}).To(Equal([]any{p1, p2, two}))
		},
		Entry("equilibrium", &branch.Branch{ParameterName: "rho", Data: branch.Data{BranchType: branch.Equilibrium{}}}, "rho", "", false),
		Entry("fold with names", &branch.Branch{Data: branch.Data{BranchType: branch.FoldCurve{Param1Name: "a", Param2Name: "b"}}}, "a", "b", true),
		Entry("fold without names", &branch.Branch{Data: branch.Data{BranchType: branch.FoldCurve{}}}, "p1", "p2", true),
		Entry("pd from parameterName", &branch.Branch{ParameterName: "a, b", Data: branch.Data{BranchType: branch.PDCurve{}}}, "a", "b", true),
		Entry("homotopy", &branch.Branch{Data: branch.Data{BranchType: branch.HomotopySaddleCurve{Param1Name: "mu", Param2Name: "nu"}}}, "mu", "nu", true),
	)

	It("labels two-parameter points with both values", func() {
		v := 0.25
		b := &branch.Branch{Data: branch.Data{BranchType: branch.HopfCurve{Param1Name: "rho", Param2Name: "sigma"}}}
		Expect(PointLabel(b, branch.Point{ParamValue: 24.5, Param2Value: &v})).To(Equal("rho=24.5, sigma=0.25"))
		Expect(PointLabel(b, branch.Point{ParamValue: 1})).To(Equal("rho=1, sigma=n/a"))

		single := &branch.Branch{ParameterName: "a", Data: branch.Data{BranchType: branch.Equilibrium{}}}
		Expect(PointLabel(single, branch.Point{ParamValue: 1.4})).To(Equal("a=1.4"))
	})
})
