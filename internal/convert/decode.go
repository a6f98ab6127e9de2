package convert

import (
	"encoding/json"
	"fmt"

	"chat-studio-core/internal/model"

	"github.com/tidwall/gjson"
)

// DecodeHistory 解码历史消息数组。
//
// 每条记录单独解码：无法解析的记录标记为 Malformed，并尽量保留 messageType、
// parentId 和 dateTime，使其仍能排在正确的位置上。只有整体不是数组时才返回错误。
func DecodeHistory(raw []byte) ([]model.RawHistoryRecord, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("history is not an array: %w", err)
	}

	records := make([]model.RawHistoryRecord, 0, len(elems))
	for _, elem := range elems {
		records = append(records, decodeRecord(elem))
	}
	return records, nil
}

func decodeRecord(elem json.RawMessage) model.RawHistoryRecord {
	var rec model.RawHistoryRecord
	if err := json.Unmarshal(elem, &rec); err == nil && rec.MessageType != "" {
		return rec
	}

	salvaged := model.RawHistoryRecord{Malformed: true}
	if gjson.ValidBytes(elem) {
		res := gjson.ParseBytes(elem)
		salvaged.MessageType = model.MessageType(res.Get("messageType").String())
		salvaged.ParentID = res.Get("parentId").Int()
		salvaged.DateTime = res.Get("dateTime").String()
	}
	return salvaged
}
