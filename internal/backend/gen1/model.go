package gen1

import (
	"pipesnap/internal/backend"
)

func (b *Backend) IsW1C(a uint64) bool {
	if a < baseAddr {
		return false
	}
	return (a-baseAddr)%dirStride == regIntrStat
}

func (b *Backend) InjectCapture(p backend.Poker, loc backend.Loc, rc *backend.RawCapture) {
	for n, v := range rc.Containers {
		if n >= layout.NumContainers() {
			break
		}
		p.Poke(loc.Dev, 0, addr(loc, regPhvBase+uint64(n)*4), v)
	}
	dp := backend.Bit(rc.Datapath.Captured) | backend.Bit(rc.Datapath.Error)<<1 | uint32(rc.Datapath.ErrorCode)<<8
	p.Poke(loc.Dev, 0, addr(loc, regDpCapture), dp)
	p.Poke(loc.Dev, 0, addr(loc, regTblHit), uint32(rc.TableHit))
	p.Poke(loc.Dev, 0, addr(loc, regGwInhibit), uint32(rc.GatewayInhibit))
	p.Poke(loc.Dev, 0, addr(loc, regTblActive), uint32(rc.TableActive))
	p.Poke(loc.Dev, 0, addr(loc, regNextTbl), uint32(rc.NextTable))
	for bus, v := range rc.ExmHitAddr {
		p.Poke(loc.Dev, 0, addr(loc, regExmHitBase+uint64(bus)*4), v)
	}
	for bus, v := range rc.TcamHitAddr {
		p.Poke(loc.Dev, 0, addr(loc, regTcmHitBase+uint64(bus)*4), v)
	}
}

func (b *Backend) InjectTrigger(p backend.Poker, loc backend.Loc, info backend.TriggerInfo) {
	p.Poke(loc.Dev, 0, addr(loc, regTrigType), backend.EncodeTriggerType(info))
	if p.Peek(loc.Dev, 0, addr(loc, regIntrEn))&1 != 0 {
		p.Poke(loc.Dev, 0, addr(loc, regIntrStat), 1)
	}
	fsm := p.Peek(loc.Dev, 0, addr(loc, regFSM))
	p.Poke(loc.Dev, 0, addr(loc, regFSM), fsm&^fsmEnable)
}

// InjectPredication is a no-op; gen1 has no predication registers.
func (b *Backend) InjectPredication(p backend.Poker, loc backend.Loc, pred backend.StagePredication) {
}
