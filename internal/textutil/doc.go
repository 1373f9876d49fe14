// Package textutil provides filename helpers shared by the source registry and
// the encode invoker.
//
// Names are NFC-normalized before checks so composed and decomposed forms of
// the same title behave identically. CheckFileName enforces the server's
// filename rules; IsAudioFile gates which local files may be added as sources.
package textutil
