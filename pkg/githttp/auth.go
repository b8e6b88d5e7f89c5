package githttp

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"

	"lunchbadger/configstore/pkg/store"
)

// privateNetworkUser is the identity assigned to callers admitted via
// the private-network bypass.
const privateNetworkUser = "git-user"

// gitUser is the only username accepted by Basic auth; the password is
// the repository's access key.
const gitUser = "git"

var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// authenticate admits the request against the target repository. Callers
// on private networks skip the password check unless the handler is
// configured otherwise; everyone else needs Basic credentials with the
// "git" user and the repository access key. The returned string is the
// authenticated identity; an empty string means the 401 has already been
// written.
//
// X-Forwarded-For is deliberately ignored: the observed remote address
// is authoritative, trust of proxies is an upstream concern.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, repo *store.Repository) string {
	if !h.authOnPrivateNetworks && isPrivateAddr(r.RemoteAddr) {
		return privateNetworkUser
	}

	user, password, ok := r.BasicAuth()
	if ok && user == gitUser {
		accessKey, err := repo.AccessKey()
		if err == nil && subtle.ConstantTimeCompare([]byte(password), []byte(accessKey)) == 1 {
			return gitUser
		}
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="configstore"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return ""
}
