package service

import (
	"pricealert/internal/domain/model"
)

// AlertIndex symbol -> 活跃 alert 的内存索引
// 非并发安全：只能在 AlertEngine 的 actor goroutine 内访问（通过 AlertEngine.Apply）
type AlertIndex struct {
	bySymbol map[string][]*model.Alert
	byID     map[int64]*model.Alert
}

func NewAlertIndex() *AlertIndex {
	return &AlertIndex{
		bySymbol: make(map[string][]*model.Alert),
		byID:     make(map[int64]*model.Alert),
	}
}

// Register 加入索引（保存副本）；同 id 已存在时替换
func (ix *AlertIndex) Register(a *model.Alert) {
	if a == nil {
		return
	}
	ix.Unregister(a.ID)
	c := a.Clone()
	c.Active = true
	ix.byID[c.ID] = c
	ix.bySymbol[c.Payload.Symbol] = append(ix.bySymbol[c.Payload.Symbol], c)
}

// Unregister 从索引移除，返回是否存在
func (ix *AlertIndex) Unregister(alertID int64) bool {
	a, ok := ix.byID[alertID]
	if !ok {
		return false
	}
	delete(ix.byID, alertID)

	list := ix.bySymbol[a.Payload.Symbol]
	for i, x := range list {
		if x.ID == alertID {
			// 新切片，正在遍历旧切片的 evaluate 不受影响
			next := make([]*model.Alert, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			list = next
			break
		}
	}
	if len(list) == 0 {
		delete(ix.bySymbol, a.Payload.Symbol)
	} else {
		ix.bySymbol[a.Payload.Symbol] = list
	}
	return true
}

// Update 替换 payload；symbol 变化时移动到新的桶
func (ix *AlertIndex) Update(alertID int64, payload model.MovementPayload) bool {
	a, ok := ix.byID[alertID]
	if !ok {
		return false
	}
	if a.Payload.Symbol == payload.Symbol {
		a.Payload = payload
		return true
	}
	moved := a.Clone()
	moved.Payload = payload
	ix.Register(moved)
	return true
}

// Lookup 某个 symbol 下的活跃 alert，调用方不得修改切片结构
func (ix *AlertIndex) Lookup(symbol string) []*model.Alert {
	return ix.bySymbol[symbol]
}

// Get 按 id 查找（返回副本）
func (ix *AlertIndex) Get(alertID int64) (*model.Alert, bool) {
	a, ok := ix.byID[alertID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (ix *AlertIndex) Len() int { return len(ix.byID) }

// Symbols 有活跃 alert 的符号数
func (ix *AlertIndex) Symbols() int { return len(ix.bySymbol) }

// Reset 用存储中的全量活跃 alert 重建索引
func (ix *AlertIndex) Reset(alerts []*model.Alert) {
	ix.bySymbol = make(map[string][]*model.Alert)
	ix.byID = make(map[int64]*model.Alert, len(alerts))
	for _, a := range alerts {
		if a == nil || !a.Active {
			continue
		}
		ix.Register(a)
	}
}
