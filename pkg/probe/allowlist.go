package probe

// DefaultSyscallAllowlist is the set of x86-64 syscall numbers written into
// the allowed_syscalls map before the syscall probe is attached. The list
// covers process lifecycle, networking, filesystem mutation, privilege and
// namespace changes, and module/tracing syscalls — the surface kguardian's
// syscall pipeline (C6) reports per pod.
var DefaultSyscallAllowlist = []uint64{
	0,   // read
	1,   // write
	2,   // open
	41,  // socket
	42,  // connect
	43,  // accept
	44,  // sendto
	45,  // recvfrom
	46,  // sendmsg
	47,  // recvmsg
	49,  // bind
	50,  // listen
	56,  // clone
	57,  // fork
	58,  // vfork
	59,  // execve
	78,  // getdents
	82,  // rename
	83,  // mkdir
	84,  // rmdir
	85,  // creat
	87,  // unlink
	88,  // symlink
	101, // ptrace
	105, // setuid
	106, // setgid
	113, // setreuid
	114, // setregid
	117, // setresuid
	119, // setresgid
	126, // capset
	155, // pivot_root
	157, // prctl
	165, // mount
	166, // umount2
	167, // swapon
	168, // swapoff
	175, // init_module
	176, // delete_module
	217, // getdents64
	227, // clock_settime
	305, // clock_adjtime
	231, // exit_group
	250, // keyctl
	257, // openat
	263, // unlinkat
	264, // renameat
	266, // symlinkat
	272, // unshare
	288, // accept4
	308, // setns
	313, // finit_module
	316, // renameat2
	437, // openat2
	321, // bpf
	322, // execveat
}
