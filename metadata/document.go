package metadata

import (
	"strconv"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// Document serializes the client identity for the hello command's
// "client" field, truncating in priority order — drop extra driver
// (wrapper) info first, then platform, then OS name — until the
// document fits maxDocumentBytes (spec.md §4.8).
func (m *Metadata) Document() bsoncore.Document {
	wrappers := m.wrappers
	platform := m.Platform
	osName := m.OS.Name

	for {
		doc := m.build(wrappers, platform, osName)
		if len(doc) <= maxDocumentBytes || (len(wrappers) == 0 && platform == "" && osName == "") {
			return doc
		}
		switch {
		case len(wrappers) > 0:
			wrappers = wrappers[:len(wrappers)-1]
		case platform != "":
			platform = ""
		default:
			osName = ""
		}
	}
}

func (m *Metadata) build(wrappers []Driver, platform, osName string) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)

	dIdx, driverDoc := bsoncore.AppendDocumentStart(nil)
	driverDoc = bsoncore.AppendStringElement(driverDoc, "name", m.Driver.Name)
	driverDoc = bsoncore.AppendStringElement(driverDoc, "version", m.Driver.Version)
	driverDoc, _ = bsoncore.AppendDocumentEnd(driverDoc, dIdx)
	doc = bsoncore.AppendDocumentElement(doc, "driver", driverDoc)

	oIdx, osDoc := bsoncore.AppendDocumentStart(nil)
	osDoc = bsoncore.AppendStringElement(osDoc, "type", m.OS.Type)
	if osName != "" {
		osDoc = bsoncore.AppendStringElement(osDoc, "name", osName)
	}
	osDoc, _ = bsoncore.AppendDocumentEnd(osDoc, oIdx)
	doc = bsoncore.AppendDocumentElement(doc, "os", osDoc)

	if platform != "" {
		doc = bsoncore.AppendStringElement(doc, "platform", platform)
	}

	if m.AppName != "" {
		aIdx, appDoc := bsoncore.AppendDocumentStart(nil)
		appDoc = bsoncore.AppendStringElement(appDoc, "name", m.AppName)
		appDoc, _ = bsoncore.AppendDocumentEnd(appDoc, aIdx)
		doc = bsoncore.AppendDocumentElement(doc, "application", appDoc)
	}

	if len(wrappers) > 0 {
		wIdx, arr := bsoncore.AppendArrayStart(nil)
		for i, w := range wrappers {
			eIdx, wdoc := bsoncore.AppendDocumentStart(nil)
			wdoc = bsoncore.AppendStringElement(wdoc, "name", w.Name)
			wdoc = bsoncore.AppendStringElement(wdoc, "version", w.Version)
			wdoc, _ = bsoncore.AppendDocumentEnd(wdoc, eIdx)
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), wdoc)
		}
		arr, _ = bsoncore.AppendArrayEnd(arr, wIdx)
		doc = bsoncore.AppendArrayElement(doc, "wrappers", arr)
	}

	if m.Environment.Name != "" {
		eIdx, envDoc := bsoncore.AppendDocumentStart(nil)
		envDoc = bsoncore.AppendStringElement(envDoc, "name", m.Environment.Name)
		if m.Environment.MemoryMB > 0 {
			envDoc = bsoncore.AppendInt32Element(envDoc, "memory_mb", int32(m.Environment.MemoryMB))
		}
		if m.Environment.TimeoutSec > 0 {
			envDoc = bsoncore.AppendInt32Element(envDoc, "timeout_sec", int32(m.Environment.TimeoutSec))
		}
		if m.Environment.Region != "" {
			envDoc = bsoncore.AppendStringElement(envDoc, "region", m.Environment.Region)
		}
		envDoc, _ = bsoncore.AppendDocumentEnd(envDoc, eIdx)
		doc = bsoncore.AppendDocumentElement(doc, "env", envDoc)
	}

	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}
