/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import "strconv"

// CepId names one side of a connection. The zero value means "not yet known".
type CepId uint64

// NoCepId is the RemoteCepId of a connection whose handshake has not completed.
const NoCepId CepId = 0

func (c CepId) String() string {
	return "0x" + strconv.FormatUint(uint64(c), 16)
}
