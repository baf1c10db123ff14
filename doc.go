// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package nbd implements the server side of the NBD network protocol.
//
// You can find a full description of the protocol at
// https://sourceforge.net/p/nbd/code/ci/master/tree/doc/proto.md
//
// The protocol is split into two phases: the handshake phase, which lets a
// client query the exports a server provides and select one, and the
// transmission phase, for reading from, writing to, and disconnecting from
// the selected export.
//
// Serve and ListenAndServe combine both phases for a single export Registry.
// Callers supply a Registry built with NewRegistry and implement the Device
// interface per Export to back actual reads and writes.
package nbd

// BUG(1): BlockSizeConstraints are not yet enforced by the server.

// BUG(2): StartTLS is not supported.

// BUG(3): CMD_TRIM, CMD_FLUSH and CMD_WRITE_ZEROES are not supported.

// BUG(4): Metadata/block-status querying (NBD_OPT_SET_META_CONTEXT and
// NBD_CMD_BLOCK_STATUS) is not supported.
