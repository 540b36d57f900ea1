package analyzer

// varData tracks one variable's life within a single flow.
type varData struct {
	create, init, assign, del *Instruction

	reads, writes map[uint64]bool
	copiedFrom    *Variable
}

func (d *varData) readsIn(lo, hi uint64) bool  { return anyIn(d.reads, lo, hi) }
func (d *varData) writesIn(lo, hi uint64) bool { return anyIn(d.writes, lo, hi) }

func anyIn(set map[uint64]bool, lo, hi uint64) bool {
	for k := range set {
		if k >= lo && k <= hi {
			return true
		}
	}
	return false
}

func first(set map[uint64]bool) uint64 {
	var m uint64 = ^uint64(0)
	for k := range set {
		m = min(m, k)
	}
	return m
}

func last(set map[uint64]bool) uint64 {
	var m uint64
	for k := range set {
		m = max(m, k)
	}
	return m
}

// flowData is the per-flow scratch state of PostProcessIR.
type flowData struct {
	vars     map[*Variable]*varData
	copiedTo map[*Variable][]*Variable
	erase    map[*Instruction]bool
}

func (fd *flowData) get(v *Variable) *varData {
	d, ok := fd.vars[v]
	if !ok {
		d = &varData{reads: make(map[uint64]bool), writes: make(map[uint64]bool)}
		fd.vars[v] = d
	}
	return d
}

func (fd *flowData) uncopy(src, dst *Variable) {
	list := fd.copiedTo[src]
	for i, v := range list {
		if v == dst {
			fd.copiedTo[src] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// PostProcessIR marks flow-local, single-assignment and write-only
// variables. With optimize set it also drops INITIALIZEs that are
// overwritten before being read and folds single-assignment temporaries
// into the variable they were copied from (or to).
func (a *Analyzer) PostProcessIR(optimize bool) {
	for _, s := range a.subs {
		if s.err != nil {
			continue
		}
		for _, f := range s.flows.ordered() {
			a.postProcessFlow(f, optimize)
		}
	}
	for _, s := range a.subs {
		var consts, merged, locals, temps, ssa int
		for _, v := range s.locals {
			switch v.class {
			case ClassConstant:
				consts++
			case ClassCallParameter, ClassCallReturnValue, ClassLocal:
				if v.Has(OptimizerEliminated) {
					merged++
					continue
				}
				locals++
				if v.Has(LocalToFlow) {
					temps++
				}
				if v.Has(SingleAssignment) {
					ssa++
				}
			}
		}
		a.log.Debugf("function %08X%s: %d constants, %d merged, %d locals, %d temporaries, %d SSA",
			s.address, situationSuffix(s), consts, merged, locals, temps, ssa)
	}
}

func (a *Analyzer) postProcessFlow(f *ControlFlow, optimize bool) {
	fd := &flowData{
		vars:     make(map[*Variable]*varData),
		copiedTo: make(map[*Variable][]*Variable),
		erase:    make(map[*Instruction]bool),
	}

	for _, in := range f.ir {
		ext := in.ext()
		reads, writes := a.variableLists(in)

		for _, v := range reads {
			fd.get(v.Head()).reads[ext] = true
		}
		for _, v := range writes {
			h := v.Head()
			d := fd.get(h)
			d.writes[ext] = true
			if d.copiedFrom != nil {
				fd.uncopy(d.copiedFrom, h)
				d.copiedFrom = nil
			}
			// An INITIALIZE overwritten before any read is redundant.
			if optimize && d.init != nil {
				if !d.readsIn(d.init.ext()+1, ext) {
					fd.erase[d.init] = true
					d.init = nil
				}
			}
		}

		switch in.Op {
		case IRCreate:
			fd.get(in.Vars[0].Head()).create = in

		case IRInitialize:
			fd.get(in.Result.Head()).init = in

		case IRAssign:
			src, dst := in.Vars[0].Head(), in.Result.Head()
			d := fd.get(dst)
			d.assign = in
			d.copiedFrom = src
			fd.copiedTo[src] = append(fd.copiedTo[src], dst)

		case IRDelete:
			v := in.Vars[0].Head()
			d := fd.get(v)
			d.del = in
			if d.create == nil {
				continue
			}

			// A multiply created variable deleted and re-created by the same
			// bytecode instruction needs neither.
			if v.Has(MultiplyCreated) && d.create.Address == d.del.Address {
				fd.erase[d.create] = true
				fd.erase[d.del] = true
				d.create, d.del = nil, nil
				continue
			}

			if v.class != ClassGlobal {
				v.SetFlag(LocalToFlow)
				if len(d.writes) == 1 {
					v.SetFlag(SingleAssignment)
				}
				if len(d.reads) == 0 {
					v.SetFlag(WriteOnly)
				}
			}

			if !optimize || len(d.writes) != 1 || len(d.reads) == 0 || v.RequiresExplicitStorage() {
				continue
			}
			if d.copiedFrom != nil {
				a.mergeIntoSource(fd, v, d)
			} else {
				a.mergeIntoCopy(fd, v, d)
			}
		}
	}

	if len(fd.erase) == 0 {
		return
	}
	kept := f.ir[:0]
	for _, in := range f.ir {
		if !fd.erase[in] {
			kept = append(kept, in)
		}
	}
	f.ir = kept
}

// mergeIntoSource eliminates v, a single-assignment copy of another
// variable, when the source is unchanged and alive for all of v's reads.
func (a *Analyzer) mergeIntoSource(fd *flowData, v *Variable, d *varData) {
	src := d.copiedFrom
	sd := fd.get(src)
	lastRead := last(d.reads)
	if sd.writesIn(last(d.writes), lastRead) {
		return
	}
	if sd.del != nil && sd.del.ext() < lastRead {
		return
	}
	if src.RequiresExplicitStorage() {
		return
	}

	v.SetMergedWith(src)
	v.SetFlag(OptimizerEliminated)
	fd.erase[d.create] = true
	fd.erase[d.assign] = true
	fd.erase[d.del] = true
	for k := range d.reads {
		sd.reads[k] = true
	}
	fd.uncopy(src, v)
	d.copiedFrom = nil
}

// mergeIntoCopy eliminates v in favour of a variable copied from it that
// was not read between v's assignment and the copy.
func (a *Analyzer) mergeIntoCopy(fd *flowData, v *Variable, d *varData) {
	var target *Variable
	for _, c := range fd.copiedTo[v] {
		cd := fd.get(c)
		if cd.assign == nil {
			continue
		}
		if cd.create != nil && cd.create.ext() > first(d.writes) {
			continue
		}
		if cd.readsIn(last(d.writes), cd.assign.ext()) {
			continue
		}
		target = c
		break
	}
	if target == nil || target.RequiresExplicitStorage() {
		return
	}

	cd := fd.get(target)
	v.SetMergedWith(target)
	v.SetFlag(OptimizerEliminated)
	fd.erase[d.create] = true
	fd.erase[cd.assign] = true
	fd.erase[d.del] = true
	for k := range d.reads {
		cd.reads[k] = true
	}
	for k := range d.writes {
		cd.writes[k] = true
	}
	delete(cd.writes, cd.assign.ext())
	fd.uncopy(v, target)
	cd.copiedFrom = nil
}
