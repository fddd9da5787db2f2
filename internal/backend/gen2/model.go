package gen2

import (
	"pipesnap/internal/backend"
)

func (b *Backend) IsW1C(a uint64) bool {
	m := b.v.Map
	if a < m.Base {
		return false
	}
	return (a-m.Base)%m.DirStride == regIntrStat
}

func (b *Backend) poke(p backend.Poker, loc backend.Loc, off uint64, v uint32) {
	subdev, a := b.locate(loc, off)
	p.Poke(loc.Dev, subdev, a, v)
}

func (b *Backend) peek(p backend.Poker, loc backend.Loc, off uint64) uint32 {
	subdev, a := b.locate(loc, off)
	return p.Peek(loc.Dev, subdev, a)
}

func (b *Backend) InjectCapture(p backend.Poker, loc backend.Loc, rc *backend.RawCapture) {
	n := b.v.Layout.NumContainers()
	valid := make([]uint32, (n+31)/32)
	for c, v := range rc.Containers {
		if c >= n {
			break
		}
		b.poke(p, loc, regPhvBase+uint64(c)*4, v)
		if rc.ContainerValid == nil || (c < len(rc.ContainerValid) && rc.ContainerValid[c]) {
			valid[c/32] |= 1 << uint(c%32)
		}
	}
	for w, bits := range valid {
		b.poke(p, loc, regPhvValid+uint64(w)*4, bits)
	}
	dp := backend.Bit(rc.Datapath.Captured) | backend.Bit(rc.Datapath.Error)<<1 | uint32(rc.Datapath.ErrorCode)<<8
	b.poke(p, loc, regDpCapture, dp)
	b.poke(p, loc, regTblHit, uint32(rc.TableHit))
	b.poke(p, loc, regGwInhibit, uint32(rc.GatewayInhibit))
	b.poke(p, loc, regTblActive, uint32(rc.TableActive))
	b.poke(p, loc, regNextTbl, uint32(rc.NextTable))
	b.poke(p, loc, regGlobalExec, uint32(rc.GlobalExecOut))
	b.poke(p, loc, regLongBranch, uint32(rc.LongBranchOut))
	for bus, v := range rc.ExmHitAddr {
		b.poke(p, loc, regExmHitBase+uint64(bus)*4, v)
	}
	for bus, v := range rc.TcamHitAddr {
		b.poke(p, loc, regTcmHitBase+uint64(bus)*4, v)
	}
}

func (b *Backend) InjectTrigger(p backend.Poker, loc backend.Loc, info backend.TriggerInfo) {
	b.poke(p, loc, regTrigType, backend.EncodeTriggerType(info))
	if b.peek(p, loc, regIntrEn)&1 != 0 {
		b.poke(p, loc, regIntrStat, 1)
	}
	b.poke(p, loc, regFSM, b.peek(p, loc, regFSM)&^fsmEnable)
}

func (b *Backend) InjectPredication(p backend.Poker, loc backend.Loc, pred backend.StagePredication) {
	for i, v := range pred.TableSelect {
		b.poke(p, loc, regTblSelect+uint64(i)*4, uint32(v))
	}
	b.poke(p, loc, regGexTables, uint32(pred.GlobalExec))
	b.poke(p, loc, regLbrTerm, uint32(pred.LongBranchTerm))
	for tag, v := range pred.LongBranchTables {
		b.poke(p, loc, regLbrTables+uint64(tag)*4, uint32(v))
	}
}
