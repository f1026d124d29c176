package layer

import (
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/tristate"
)

// DrbdRscData is the replicated block device layer. PromotionScore and
// MayPromote are volatile: they come from satellite events, are never
// persisted and are guarded by the resource definition map lock.
type DrbdRscData struct {
	common
	nodeID         names.NodeID
	promotionScore tristate.Int
	mayPromote     tristate.Bool
}

func (d *DrbdRscData) Kind() Kind { return KindDrbd }
func (d *DrbdRscData) Accept(v Visitor) error { return v.VisitDrbd(d) }
func (d *DrbdRscData) NodeID() names.NodeID { return d.nodeID }
func (d *DrbdRscData) PromotionScore() tristate.Int { return d.promotionScore }
func (d *DrbdRscData) MayPromote() tristate.Bool { return d.mayPromote }
func (d *DrbdRscData) SetPromotionScore(s tristate.Int) { d.promotionScore = s }
func (d *DrbdRscData) SetMayPromote(m tristate.Bool) { d.mayPromote = m }

type LuksRscData struct {
	common
	// set once the satellite reports the device as opened
	opened bool
}

func (l *LuksRscData) Kind() Kind { return KindLuks }
func (l *LuksRscData) Accept(v Visitor) error { return v.VisitLuks(l) }
func (l *LuksRscData) Opened() bool { return l.opened }
func (l *LuksRscData) SetOpened(o bool) { l.opened = o }

type CacheRscData struct {
	common
	cachePool names.StorPoolName
	metaPool  names.StorPoolName
}

func (c *CacheRscData) Kind() Kind { return KindCache }
func (c *CacheRscData) Accept(v Visitor) error { return v.VisitCache(c) }
func (c *CacheRscData) CachePool() names.StorPoolName { return c.cachePool }
func (c *CacheRscData) MetaPool() names.StorPoolName { return c.metaPool }

type StorageRscData struct {
	common
	storPool names.StorPoolName
}

func (s *StorageRscData) Kind() Kind { return KindStorage }
func (s *StorageRscData) Accept(v Visitor) error { return v.VisitStorage(s) }
func (s *StorageRscData) StorPool() names.StorPoolName { return s.storPool }

func NewDrbd(id int, suffix string, nodeID names.NodeID) *DrbdRscData {
	return &DrbdRscData{common: common{id: id, suffix: suffix}, nodeID: nodeID}
}

func NewLuks(id int, suffix string) *LuksRscData {
	return &LuksRscData{common: common{id: id, suffix: suffix}}
}

func NewCache(id int, suffix string, cachePool, metaPool names.StorPoolName) *CacheRscData {
	return &CacheRscData{common: common{id: id, suffix: suffix}, cachePool: cachePool, metaPool: metaPool}
}

func NewStorage(id int, suffix string, storPool names.StorPoolName) *StorageRscData {
	return &StorageRscData{common: common{id: id, suffix: suffix}, storPool: storPool}
}
