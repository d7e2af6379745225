package restart

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidahmann/simrestart/core/checkpoint"
	"github.com/davidahmann/simrestart/core/collective"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/core/fsx"
	"github.com/davidahmann/simrestart/core/telemetry"
)

type HandleOptions struct {
	Role ProcessRole
	// Sim spans the ranks of this simulation. It may be nil for a single rank.
	Sim collective.Communicator
	// Masters spans the masters of all simulations. It is required on masters
	// of a multi-simulation and ignored elsewhere.
	Masters collective.Communicator

	Appending       AppendingBehavior
	Files           filenames.Set
	Reader          checkpoint.Reader
	DoublePrecision bool
	Platform        fsx.Capabilities
	Exists          func(path string) bool

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	// Observer, when set, is told about each phase this rank enters.
	Observer func(Phase)
}

// Outcome is the agreed result on one rank. Log, Header and Files are only
// populated on the master of each simulation.
type Outcome struct {
	Behavior StartingBehavior
	Log      *LogFile
	Header   checkpoint.Header
	// Files are the run's files after any renaming for a non-appending restart.
	Files filenames.Set
}

// RoleFor derives the process role of a rank placed by topology.
func RoleFor(topology collective.Topology) ProcessRole {
	return ProcessRole{
		Rank:     topology.Sim.Rank(),
		Size:     topology.Sim.Size(),
		SimIndex: topology.SimIndex,
		NumSims:  max(topology.NumSims, 1),
	}
}

// WithTopology fills the role and communicators of opts from topology.
func (o HandleOptions) WithTopology(topology collective.Topology) HandleOptions {
	o.Role = RoleFor(topology)
	o.Sim = topology.Sim
	o.Masters = topology.Masters
	return o
}

type masterResult struct {
	outcome Outcome
	err     error
}

// Handle runs the restart protocol on one rank. Every rank of every
// simulation must call it. Only masters touch files; any error found there
// makes all ranks return an error, and otherwise all ranks return the same
// StartingBehavior.
func Handle(ctx context.Context, opts HandleOptions) (Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	role := opts.Role
	if role.Size == 0 {
		role.Size = 1
		if opts.Sim != nil {
			role.Rank, role.Size = opts.Sim.Rank(), opts.Sim.Size()
		}
	}
	if role.NumSims == 0 {
		role.NumSims = 1
	}
	logger = logger.With("rank", role.Rank, "simulation", role.SimIndex)

	ctx, span := telemetry.Tracer(opts.TracerProvider).Start(ctx, "restart.handle", trace.WithAttributes(
		attribute.Int("simrestart.rank", role.Rank),
		attribute.Int("simrestart.size", role.Size),
		attribute.Int("simrestart.simulation", role.SimIndex),
		attribute.Int("simrestart.simulations", role.NumSims),
		attribute.String("simrestart.appending", opts.Appending.String()),
	))
	defer span.End()

	h := handler{opts: opts, role: role, logger: logger, span: span}
	outcome, err := h.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, coreerrors.CodeOf(err))
		h.enter(PhaseAborted)
		return Outcome{}, err
	}
	h.enter(PhaseCommitted)
	span.SetAttributes(attribute.String("simrestart.starting_behavior", outcome.Behavior.String()))
	return outcome, nil
}

type handler struct {
	opts   HandleOptions
	role   ProcessRole
	logger *slog.Logger
	span   trace.Span
}

func (h handler) enter(phase Phase) {
	h.span.AddEvent(string(phase))
	if h.opts.Observer != nil {
		h.opts.Observer(phase)
	}
}

func (h handler) run(ctx context.Context) (Outcome, error) {
	if err := h.checkSetup(); err != nil {
		return Outcome{}, err
	}

	var local masterResult
	if h.role.IsMaster() {
		local = h.runMaster()
		if local.err != nil {
			h.logger.Error("restart preparation failed",
				"error", local.err.Error(),
				"error_code", coreerrors.CodeOf(local.err),
				"error_category", string(coreerrors.CategoryOf(local.err)))
		}
	}

	h.enter(PhaseReconciling)
	reconciled, err := h.reconcile(ctx, local)
	if err != nil {
		_ = local.outcome.Log.Close()
		if local.err != nil {
			return Outcome{}, local.err
		}
		return Outcome{}, coreerrors.Wrap(fmt.Errorf("reconcile restart decision: %w", err),
			coreerrors.CategoryParallelConsistency, CodeCollectiveFailed, "check that every rank reached startup", false)
	}
	if reconciled.numErrors > 0 {
		_ = local.outcome.Log.Close()
		switch {
		case local.err != nil:
			return Outcome{}, local.err
		case reconciled.raised != nil:
			return Outcome{}, reconciled.raised
		default:
			return Outcome{}, peerFailure()
		}
	}

	behavior := local.outcome.Behavior
	if h.role.IsParallel() {
		payload, err := h.opts.Sim.Broadcast(ctx, []byte{byte(behavior)}, 0)
		if err == nil {
			behavior, err = decodeStartingBehavior(payload)
		}
		if err != nil {
			_ = local.outcome.Log.Close()
			return Outcome{}, coreerrors.Wrap(fmt.Errorf("broadcast starting behavior: %w", err),
				coreerrors.CategoryParallelConsistency, CodeCollectiveFailed, "", false)
		}
	}

	outcome := local.outcome
	outcome.Behavior = behavior
	return outcome, nil
}

func (h handler) checkSetup() error {
	if err := h.role.validate(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, CodeInvalidRole, "", false)
	}
	if h.role.IsParallel() && h.opts.Sim == nil {
		return coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeInvalidRole, "",
			"rank %d of %d has no simulation communicator", h.role.Rank, h.role.Size)
	}
	if h.role.IsMultiSim() && h.role.IsMaster() && h.opts.Masters == nil {
		return coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeInvalidRole, "",
			"master of simulation %d has no communicator to the other masters", h.role.SimIndex)
	}
	return nil
}

// runMaster decides and prepares. Errors are returned, never raised past
// this rank, so that reconciliation always runs.
func (h handler) runMaster() masterResult {
	h.enter(PhaseDeciding)
	decision, err := Decide(DecideOptions{
		Appending:       h.opts.Appending,
		Files:           h.opts.Files,
		Reader:          h.opts.Reader,
		DoublePrecision: h.opts.DoublePrecision,
		Exists:          h.opts.Exists,
	})
	if err != nil {
		return masterResult{err: err}
	}
	h.logger.Info("restart decision",
		"starting_behavior", decision.Behavior.String(),
		"simulation_part", decision.Header.SimulationPart,
		"output_files", len(decision.OutputFiles))

	outcome := Outcome{Behavior: decision.Behavior, Header: decision.Header, Files: h.opts.Files}
	if decision.Behavior == RestartWithoutAppending {
		outcome.Files = outcome.Files.WithSuffix(filenames.PartSuffix(decision.Header.SimulationPart + 1))
	}

	appending := decision.Behavior == RestartWithAppending
	log, err := openLogFile(outcome.Files.LogPath(), appending)
	if err != nil {
		return masterResult{outcome: outcome, err: err}
	}
	outcome.Log = log

	if appending {
		h.enter(PhasePreparing)
		if err := PrepareForAppending(decision.OutputFiles, log, h.opts.Platform); err != nil {
			_ = log.Close()
			outcome.Log = nil
			return masterResult{outcome: outcome, err: err}
		}
	}
	return masterResult{outcome: outcome}
}

type reconciliation struct {
	// numErrors counts errors over every participating rank.
	numErrors int64
	// raised is an error detected on this rank during reconciliation.
	raised error
}

func (h handler) reconcile(ctx context.Context, local masterResult) (reconciliation, error) {
	var result reconciliation
	if local.err != nil {
		result.numErrors = 1
	}

	var err error
	if h.role.IsParallel() {
		if result.numErrors, err = collective.SumInt(ctx, h.opts.Sim, result.numErrors); err != nil {
			return reconciliation{}, err
		}
	}
	if !h.role.IsMultiSim() {
		return result, nil
	}

	if h.role.IsMaster() {
		if result, err = h.reconcileSimulations(ctx, result.numErrors, local.outcome.Header.SimulationPart); err != nil {
			return reconciliation{}, err
		}
	}
	if h.role.IsParallel() {
		payload, err := h.opts.Sim.Broadcast(ctx, countPayload(result.numErrors), 0)
		if err != nil {
			return reconciliation{}, err
		}
		if result.numErrors, err = decodeCount(payload); err != nil {
			return reconciliation{}, err
		}
	}
	return result, nil
}

// reconcileSimulations runs on masters only. Each master contributes its
// simulation's error count and simulation part in its own slot so that every
// master sees all of them after one reduction.
func (h handler) reconcileSimulations(ctx context.Context, simErrors int64, simulationPart int) (reconciliation, error) {
	numSims := h.role.NumSims
	values := make([]int64, 2*numSims)
	values[h.role.SimIndex] = simErrors
	values[numSims+h.role.SimIndex] = int64(simulationPart)
	sums, err := h.opts.Masters.ReduceSum(ctx, values)
	if err != nil {
		return reconciliation{}, err
	}

	var total int64
	for _, count := range sums[:numSims] {
		total += count
	}
	if total > 0 {
		return reconciliation{numErrors: total}, nil
	}

	parts := sums[numSims:]
	if allEqual(parts) {
		return reconciliation{}, nil
	}
	// Every master sees the mismatch; only one reports it.
	if !h.role.IsMasterSim() {
		return reconciliation{numErrors: 1}, nil
	}
	h.logger.Error("simulation parts differ between simulations", "simulation_parts", parts)
	return reconciliation{numErrors: 1, raised: simulationPartMismatch(parts)}, nil
}

func allEqual(values []int64) bool {
	for _, value := range values[1:] {
		if value != values[0] {
			return false
		}
	}
	return true
}

func simulationPartMismatch(parts []int64) error {
	listed := make([]string, len(parts))
	for index, part := range parts {
		listed[index] = fmt.Sprintf("simulation %d: part %d", index, part)
	}
	return coreerrors.Newf(coreerrors.CategoryInvalidInput, CodeSimulationPartMismatch,
		"restart every simulation from checkpoints of the same simulation part",
		"the checkpoints of the simulations describe different simulation parts (%s)", strings.Join(listed, ", "))
}

func countPayload(count int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(count))
}

func decodeCount(payload []byte) (int64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("invalid error count payload of %d bytes", len(payload))
	}
	return int64(binary.BigEndian.Uint64(payload)), nil
}
